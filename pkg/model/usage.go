package model

import "time"

// UsageSession is one on/off interval of a device. EndTime is nil while
// the device is still on.
type UsageSession struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"device_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

func (s *UsageSession) IsOpen() bool {
	return s.EndTime == nil
}

// End returns the session end, or now for an open session.
func (s *UsageSession) End(now time.Time) time.Time {
	if s.EndTime == nil {
		return now
	}
	return *s.EndTime
}
