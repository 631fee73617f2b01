package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignment_Claimable(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		assignment Assignment
		want       bool
	}{
		{"zero value is free", Assignment{}, true},
		{"free", Free(), true},
		{"live reservation", ReservedFor("r1", now.Add(10*time.Second)), false},
		{"reservation ending exactly now is still held", ReservedFor("r1", now), false},
		{"expired reservation", ReservedFor("r1", now.Add(-time.Second)), true},
		{"assigned", AssignedTo("r1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.assignment.Claimable(now))
		})
	}
}

func TestAssignment_StatesAreExclusive(t *testing.T) {
	until := time.Now().Add(30 * time.Second)

	reserved := ReservedFor("r1", until)
	assert.True(t, reserved.IsReserved())
	assert.False(t, reserved.IsAssigned())
	assert.Equal(t, "r1", reserved.RentalID())
	assert.Equal(t, until, reserved.ReservedUntil())

	assigned := AssignedTo("r1")
	assert.True(t, assigned.IsAssigned())
	assert.False(t, assigned.IsReserved())
	assert.True(t, assigned.ReservedUntil().IsZero())
}

func TestAssignment_MarshalJSON(t *testing.T) {
	until := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)

	data, err := json.Marshal(ReservedFor("r1", until))
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"reserved","rental_id":"r1","reserved_until":"2026-03-01T10:00:30Z"}`, string(data))

	data, err = json.Marshal(AssignedTo("r2"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"assigned","rental_id":"r2"}`, string(data))

	data, err = json.Marshal(Free())
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"free"}`, string(data))
}

func TestUsageSession_End(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Hour)

	open := &UsageSession{StartTime: start}
	assert.True(t, open.IsOpen())
	assert.Equal(t, now, open.End(now))

	end := now.Add(-time.Minute)
	closed := &UsageSession{StartTime: start, EndTime: &end}
	assert.False(t, closed.IsOpen())
	assert.Equal(t, end, closed.End(now))
}
