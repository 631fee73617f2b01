package model

import "time"

type ReturnStatus string

const (
	ReturnRequested ReturnStatus = "requested"
	ReturnShipped   ReturnStatus = "shipped"
	ReturnReceived  ReturnStatus = "received"
)

// ReturnRecord tracks the physical return of a device after the rental term ends.
type ReturnRecord struct {
	ID        string       `json:"id"`
	RentalID  string       `json:"rental_id"`
	UserID    string       `json:"user_id"`
	Status    ReturnStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type ReturnStatusChange struct {
	Status ReturnStatus `json:"status" validate:"required,oneof=shipped received"`
}
