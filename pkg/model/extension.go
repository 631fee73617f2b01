package model

import "time"

type ExtensionStatus string

const (
	ExtensionPendingPayment ExtensionStatus = "pending_payment"
	ExtensionCompleted      ExtensionStatus = "completed"
	ExtensionFailed         ExtensionStatus = "failed"
)

type Extension struct {
	ID             string          `json:"id"`
	RentalID       string          `json:"rental_id"`
	Status         ExtensionStatus `json:"status"`
	IntervalMonths int             `json:"interval_months"`
	NewEndDate     time.Time       `json:"new_end_date"`
	Amount         int64           `json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ExtensionRequest struct {
	IntervalMonths int `json:"interval_months" validate:"required,rental_interval"`
}

type ExtensionCreated struct {
	ExtensionID string    `json:"extension_id"`
	PaymentID   string    `json:"payment_id"`
	NewEndDate  time.Time `json:"new_end_date"`
	Amount      int64     `json:"amount"`
}
