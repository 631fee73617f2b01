package model

import "time"

type RentalStatus string

const (
	RentalPending        RentalStatus = "pending"
	RentalActive         RentalStatus = "active"
	RentalAwaitingReturn RentalStatus = "awaiting-return"
	RentalCompleted      RentalStatus = "completed"
	RentalCancelled      RentalStatus = "cancelled"
)

func (s RentalStatus) IsTerminal() bool {
	return s == RentalCompleted || s == RentalCancelled
}

type Rental struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	Status         RentalStatus `json:"status"`
	IntervalMonths int          `json:"interval_months"`
	StartDate      time.Time    `json:"start_date"`
	EndDate        time.Time    `json:"end_date"`
	Cost           int64        `json:"cost"`
	ReservedUntil  *time.Time   `json:"reserved_until,omitempty"`
	DeviceID       string       `json:"device_id,omitempty"` // resolved from the device pool on read
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	DeletedAt      *time.Time   `json:"-"`
}

type RentalRequest struct {
	IntervalMonths int `json:"interval_months" validate:"required,rental_interval"`
}

type RentalStatusChange struct {
	Status RentalStatus `json:"status" validate:"required,oneof=active awaiting-return completed cancelled"`
}

// RentalCreated is returned by AddRental.
type RentalCreated struct {
	RentalID      string    `json:"rental_id"`
	PaymentID     string    `json:"payment_id"`
	DeviceID      string    `json:"device_id"`
	Cost          int64     `json:"cost"`
	ReservedUntil time.Time `json:"reserved_until"`
}
