package devicecmd

import (
	"context"
	"rover/pkg/kafka"
	"rover/pkg/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	messages []kafka.Message
}

func (c *capturePublisher) Publish(_ context.Context, msg kafka.Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func TestKafkaSender_KeysByDevice(t *testing.T) {
	pub := &capturePublisher{}
	s := &KafkaSender{producer: pub, source: "sweepers"}

	err := s.Send(context.Background(), Command{DeviceID: "dev-1", Action: model.ActionOff, Reason: "daily limit"})

	require.NoError(t, err)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "dev-1", pub.messages[0].Key)
	assert.Equal(t, "device:off", pub.messages[0].GetEventType())
	assert.Contains(t, string(pub.messages[0].Value), `"action":"off"`)
}
