package model

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentType string

const (
	PaymentInitial   PaymentType = "initial"
	PaymentExtension PaymentType = "extension"
)

type Payment struct {
	ID          string        `json:"id"`
	RentalID    string        `json:"rental_id"`
	ExtensionID string        `json:"extension_id,omitempty"`
	Amount      int64         `json:"amount"`
	Status      PaymentStatus `json:"status"`
	Type        PaymentType   `json:"payment_type"`
	PaidAt      *time.Time    `json:"paid_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// PaymentVerification is the result reported by the payment provider
// or by an admin. Either PaymentID or RentalID+Type identifies the payment.
type PaymentVerification struct {
	PaymentID string        `json:"payment_id,omitempty" validate:"omitempty,mongodb"`
	RentalID  string        `json:"rental_id,omitempty" validate:"required_without=PaymentID,omitempty,mongodb"`
	Type      PaymentType   `json:"payment_type" validate:"required,oneof=initial extension"`
	Status    PaymentStatus `json:"status" validate:"required,oneof=completed failed"`
}
