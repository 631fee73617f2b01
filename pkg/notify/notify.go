package notify

import (
	"context"
	"fmt"
	"rover/pkg/kafka"
	"rover/pkg/logger"
	"time"
)

type Kind string

const (
	KindPaymentFailed  Kind = "payment:failed"
	KindAlmostEnd      Kind = "rental:almost-end"
	KindAwaitingReturn Kind = "rental:awaitingreturn"
)

// Notification is addressed to one user. Payload carries kind specific fields
// such as rental_id, end_date or payment_id.
type Notification struct {
	Kind    Kind           `json:"kind"`
	UserID  string         `json:"user_id"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// Notifier delivers user notifications. Delivery is best effort: callers log
// and count failures, they never roll back committed state because of them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type KafkaNotifier struct {
	producer publisher
	source   string
}

func NewKafkaNotifier(producer *kafka.Producer, source string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, source: source}
}

func (n *KafkaNotifier) Notify(ctx context.Context, notification Notification) error {
	if notification.UserID == "" {
		return fmt.Errorf("notification %s has no recipient", notification.Kind)
	}
	if notification.SentAt.IsZero() {
		notification.SentAt = time.Now()
	}

	msg, err := kafka.NewMessage().
		WithKey(notification.UserID).
		WithEventType(string(notification.Kind)).
		WithSource(n.source).
		WithValue(notification).
		Build()
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, msg)
}

// LogNotifier is used when Kafka is disabled.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	n.log.Info("Notification",
		"kind", notification.Kind,
		"user_id", notification.UserID,
		"payload", notification.Payload,
	)
	return nil
}
