package kafka_config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvKafkaBrokers, " broker-a:9092, broker-b:9092 ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.Brokers)
	assert.Equal(t, int64(DefaultConsumerStartOffset), cfg.ConsumerStartOffset)
	assert.Equal(t, DefaultConsumerMaxRetries, cfg.ConsumerMaxRetries)
}

func TestLoad_InvalidCompression(t *testing.T) {
	t.Setenv(EnvKafkaProducerCompression, "brotli")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ProducerCompression")
}

func TestValidate_EmptyBroker(t *testing.T) {
	t.Setenv(EnvKafkaBrokers, "a:9092,,b:9092")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Broker 1 cannot be empty")
}
