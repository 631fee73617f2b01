package kafka

import (
	"context"
	"errors"
	"fmt"

	kafka_config "rover/pkg/kafka/config"

	"github.com/segmentio/kafka-go"
)

// Ping dials each broker until one answers with its metadata.
func Ping(ctx context.Context, cfg *kafka_config.Config) error {
	var errs []error
	for _, broker := range cfg.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", broker, err))
	}
	if len(errs) == 0 {
		return errors.New("no kafka brokers configured")
	}
	return errors.Join(errs...)
}
