package devicecmd

import (
	"context"
	"rover/pkg/kafka"
	"rover/pkg/logger"
	"rover/pkg/model"
	"time"
)

// Command is the payload read by the device gateway.
type Command struct {
	DeviceID string             `json:"device_id"`
	Action   model.DeviceAction `json:"action"`
	Reason   string             `json:"reason,omitempty"`
	IssuedAt time.Time          `json:"issued_at"`
}

// Sender issues power commands to physical devices. A nil error means the
// command was handed to the transport, not that the device obeyed it.
type Sender interface {
	Send(ctx context.Context, cmd Command) error
}

type publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type KafkaSender struct {
	producer publisher
	source   string
}

func NewKafkaSender(producer *kafka.Producer, source string) *KafkaSender {
	return &KafkaSender{producer: producer, source: source}
}

func (s *KafkaSender) Send(ctx context.Context, cmd Command) error {
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}
	msg, err := kafka.NewMessage().
		WithKey(cmd.DeviceID).
		WithEventType("device:" + string(cmd.Action)).
		WithSource(s.source).
		WithValue(cmd).
		Build()
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, msg)
}

type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, cmd Command) error {
	s.log.Info("Device command", "device_id", cmd.DeviceID, "action", cmd.Action, "reason", cmd.Reason)
	return nil
}
