package model

import (
	"encoding/json"
	"time"
)

type DeviceStatus string

const (
	DeviceInactive    DeviceStatus = "inactive"
	DeviceActive      DeviceStatus = "active"
	DeviceMaintenance DeviceStatus = "maintenance"
	DeviceError       DeviceStatus = "error"
)

type DeviceAction string

const (
	ActionOn  DeviceAction = "on"
	ActionOff DeviceAction = "off"
)

// Device is one rentable physical unit.
type Device struct {
	ID                string       `json:"id"`
	Status            DeviceStatus `json:"status"`
	Assignment        Assignment   `json:"assignment"`
	FirstSessionFlag  bool         `json:"first_session_flag"`
	FlaggedAt         *time.Time   `json:"flagged_at,omitempty"`
	LastActiveSeconds int64        `json:"last_active_seconds"`
	CreatedAt         time.Time    `json:"created_at"`
	DeletedAt         *time.Time   `json:"-"`
}

type AssignmentState string

const (
	StateFree     AssignmentState = "free"
	StateReserved AssignmentState = "reserved"
	StateAssigned AssignmentState = "assigned"
)

// Assignment is the claim state of a device: Free, Reserved{until, rental}
// or Assigned{rental}. A reservation and an assignment can never coexist.
type Assignment struct {
	state    AssignmentState
	until    time.Time
	rentalID string
}

func Free() Assignment {
	return Assignment{state: StateFree}
}

// ReservedFor is a soft hold taken on behalf of a pending rental.
func ReservedFor(rentalID string, until time.Time) Assignment {
	return Assignment{state: StateReserved, until: until, rentalID: rentalID}
}

func AssignedTo(rentalID string) Assignment {
	return Assignment{state: StateAssigned, rentalID: rentalID}
}

func (a Assignment) State() AssignmentState {
	if a.state == "" {
		return StateFree
	}
	return a.state
}

// RentalID is the pending rental holding the reservation or the rental
// owning the assignment. Empty when free.
func (a Assignment) RentalID() string { return a.rentalID }

// ReservedUntil is zero unless the device is reserved.
func (a Assignment) ReservedUntil() time.Time { return a.until }

func (a Assignment) IsAssigned() bool { return a.State() == StateAssigned }

func (a Assignment) IsReserved() bool { return a.State() == StateReserved }

// Claimable reports whether a new rental may take the device at now.
// A reservation is free again once now is past its until.
func (a Assignment) Claimable(now time.Time) bool {
	switch a.State() {
	case StateFree:
		return true
	case StateReserved:
		return now.After(a.until)
	default:
		return false
	}
}

type assignmentJSON struct {
	State         AssignmentState `json:"state"`
	RentalID      string          `json:"rental_id,omitempty"`
	ReservedUntil *time.Time      `json:"reserved_until,omitempty"`
}

func (a Assignment) MarshalJSON() ([]byte, error) {
	out := assignmentJSON{State: a.State(), RentalID: a.rentalID}
	if a.IsReserved() {
		until := a.until
		out.ReservedUntil = &until
	}
	return json.Marshal(out)
}
