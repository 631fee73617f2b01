package model

import "time"

type DeviceControlRequest struct {
	Action DeviceAction `json:"action" validate:"required,oneof=on off"`
}

type DeviceStatusChange struct {
	Status DeviceStatus `json:"status" validate:"required,oneof=inactive maintenance error"`
}

// DeviceUsage is the quota position of a device for the current local day.
type DeviceUsage struct {
	DeviceID         string    `json:"device_id"`
	DayStart         time.Time `json:"day_start"`
	HoursToday       float64   `json:"hours_today"`
	SessionOpen      bool      `json:"session_open"`
	FirstSessionFlag bool      `json:"first_session_flag"`
}
