// Package consumer applies payment provider results delivered over Kafka.
package consumer

import (
	"context"
	"rover/internal/payments/service"
	apperrors "rover/pkg/errors"
	"rover/pkg/kafka"
	"rover/pkg/logger"
	"rover/pkg/model"
)

const EventVerified = "payment:verified"

type VerificationConsumer struct {
	service service.PaymentService
	log     *logger.Logger
}

func NewVerificationConsumer(service service.PaymentService, log *logger.Logger) *VerificationConsumer {
	return &VerificationConsumer{service: service, log: log}
}

// Handle is a kafka.MessageHandler. Payloads that can never succeed are
// reported as permanent errors so the consumer parks them in the DLQ.
func (c *VerificationConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	var verification model.PaymentVerification
	if err := msg.DecodeValue(&verification); err != nil {
		return kafka.NewPermanentError("failed to decode payment verification", err)
	}

	payment, err := c.service.VerifyPayment(ctx, model.System, &verification)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeInternal) || apperrors.HasCode(err, apperrors.CodeTimeout) {
			return kafka.NewTransientError("payment verification failed", err)
		}
		return kafka.NewPermanentError("payment verification rejected", err)
	}

	c.log.Debug("Payment verification consumed",
		"event_id", msg.GetEventID(),
		"payment_id", payment.ID,
		"status", payment.Status,
	)
	return nil
}
