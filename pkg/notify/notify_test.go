package notify

import (
	"context"
	"encoding/json"
	"rover/pkg/kafka"
	"rover/pkg/logger"
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

func TestKafkaNotifier_KeysByUser(t *testing.T) {
	pub := &capturePublisher{}
	n := &KafkaNotifier{producer: pub, source: "sweepers"}

	err := n.Notify(context.Background(), Notification{
		Kind:    KindPaymentFailed,
		UserID:  "user-7",
		Payload: map[string]any{"rental_id": "r-1"},
	})

	require.NoError(t, err)
	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "user-7", msg.Key)
	assert.Equal(t, "payment:failed", msg.GetEventType())
	assert.Equal(t, "sweepers", msg.Headers[kafka.HeaderSource])

	var decoded Notification
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "r-1", decoded.Payload["rental_id"])
	assert.False(t, decoded.SentAt.IsZero())
}

func TestKafkaNotifier_RequiresRecipient(t *testing.T) {
	n := &KafkaNotifier{producer: &capturePublisher{}}

	assert.Error(t, n.Notify(context.Background(), Notification{Kind: KindAlmostEnd}))
}

func TestLogNotifier_NeverFails(t *testing.T) {
	n := NewLogNotifier(logger.Discard())

	assert.NoError(t, n.Notify(context.Background(), Notification{Kind: KindAwaitingReturn, UserID: "u"}))
}
