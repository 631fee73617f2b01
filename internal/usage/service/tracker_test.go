package service

import (
	"context"
	"testing"
	"time"

	"rover/internal/testutil/memstore"
	apperrors "rover/pkg/errors"
	"rover/pkg/logger"
	"rover/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLimits = Limits{
	Daily:        8 * time.Hour,
	FirstSession: 4 * time.Hour,
	Cooldown:     time.Hour,
}

func jakarta(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	return loc
}

func newTestTracker(t *testing.T) (*Tracker, *memstore.Store, string) {
	t.Helper()
	store := memstore.New()
	device := &model.Device{Status: model.DeviceInactive}
	require.NoError(t, store.Devices().Create(context.Background(), device))

	tracker := NewTracker(store.Sessions(), store.Devices(), store, testLimits, jakarta(t), logger.Discard())
	return tracker, store, device.ID
}

func ended(t time.Time) *time.Time {
	return &t
}

func TestCheckAndLogSessionStart_CooldownAfterLongDay(t *testing.T) {
	tracker, store, deviceID := newTestTracker(t)
	ctx := context.Background()
	loc := jakarta(t)

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, loc)
	lastEnd := now.Add(-20 * time.Minute)
	store.SeedSession(deviceID, lastEnd.Add(-5*time.Hour), ended(lastEnd))

	err := tracker.CheckAndLogSessionStart(ctx, deviceID, now)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePolicyViolation))

	later := now.Add(41 * time.Minute)
	require.NoError(t, tracker.CheckAndLogSessionStart(ctx, deviceID, later))

	sessions, err := store.Sessions().FindSince(ctx, deviceID, tracker.DayStart(later))
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[1].IsOpen())
	assert.Equal(t, later, sessions[1].StartTime)
}

func TestCheckAndLogSessionStart_DailyLimitIsInclusive(t *testing.T) {
	tracker, store, deviceID := newTestTracker(t)
	loc := jakarta(t)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	store.SeedSession(deviceID, day.Add(6*time.Hour), ended(day.Add(10*time.Hour)))
	store.SeedSession(deviceID, day.Add(10*time.Hour+30*time.Minute), ended(day.Add(14*time.Hour+30*time.Minute)))

	err := tracker.CheckAndLogSessionStart(context.Background(), deviceID, day.Add(20*time.Hour))
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodePolicyViolation, appErr.Code)
	assert.Equal(t, string(DailyLimitReached), appErr.Message)
	assert.InDelta(t, 8.0, appErr.Details["hours_today"], 1e-9)
}

func TestCheckAndLogSessionStart_ClosesDanglingSession(t *testing.T) {
	tracker, store, deviceID := newTestTracker(t)
	ctx := context.Background()
	loc := jakarta(t)

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, loc)
	store.SeedSession(deviceID, now.Add(-30*time.Minute), nil)

	require.NoError(t, tracker.CheckAndLogSessionStart(ctx, deviceID, now))

	sessions, err := store.Sessions().FindSince(ctx, deviceID, tracker.DayStart(now))
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.NotNil(t, sessions[0].EndTime)
	assert.Equal(t, now, *sessions[0].EndTime)
	assert.True(t, sessions[1].IsOpen())
}

func TestCheckAndLogSessionStart_RejectionLeavesLogUntouched(t *testing.T) {
	tracker, store, deviceID := newTestTracker(t)
	ctx := context.Background()
	loc := jakarta(t)

	now := time.Date(2026, 3, 2, 18, 0, 0, 0, loc)
	store.SeedSession(deviceID, now.Add(-9*time.Hour), nil)

	require.Error(t, tracker.CheckAndLogSessionStart(ctx, deviceID, now))

	sessions, err := store.Sessions().FindSince(ctx, deviceID, tracker.DayStart(now))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].IsOpen())
}

func TestCheckAndLogSessionStart_UnknownDevice(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	err := tracker.CheckAndLogSessionStart(context.Background(), "65f000000000000000000000", time.Now())
	require.Error(t, err)
}

func TestLogSessionEnd(t *testing.T) {
	tracker, store, deviceID := newTestTracker(t)
	ctx := context.Background()
	loc := jakarta(t)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, loc)
	store.SeedSession(deviceID, now.Add(-90*time.Minute), nil)

	ran, err := tracker.LogSessionEnd(ctx, deviceID, now)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, ran)

	ran, err = tracker.LogSessionEnd(ctx, deviceID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, ran)
}

func TestTodayUsage_ClipsAtLocalMidnight(t *testing.T) {
	tracker, store, deviceID := newTestTracker(t)
	loc := jakarta(t)

	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	store.SeedSession(deviceID, midnight.Add(-5*time.Hour), ended(midnight.Add(-time.Hour)))
	store.SeedSession(deviceID, midnight.Add(-2*time.Hour), ended(midnight.Add(3*time.Hour)))

	sum, err := tracker.TodayUsage(context.Background(), deviceID, midnight.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, sum.Total)
	assert.Equal(t, midnight.Add(3*time.Hour), sum.LastEnd)
}

func TestSummarize_OpenSessionCountsUntilNow(t *testing.T) {
	dayStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now := dayStart.Add(10 * time.Hour)
	open := &model.UsageSession{StartTime: now.Add(-2 * time.Hour)}
	closed := &model.UsageSession{StartTime: dayStart.Add(time.Hour), EndTime: ended(dayStart.Add(2 * time.Hour))}

	sum := Summarize([]*model.UsageSession{closed, open}, dayStart, now)

	assert.Equal(t, 3*time.Hour, sum.Total)
	assert.InDelta(t, 3.0, sum.Hours(), 1e-9)
	assert.Same(t, closed, sum.First)
	assert.Same(t, open, sum.Open)
	assert.Equal(t, now, sum.LastEnd)
}

func TestLimits_CheckStart(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		total   time.Duration
		lastEnd time.Time
		want    Rejection
	}{
		{"fresh day", 0, time.Time{}, Allowed},
		{"short use, just stopped", 3*time.Hour + 59*time.Minute, now, Allowed},
		{"exactly four hours, just stopped", 4 * time.Hour, now.Add(-59 * time.Minute), CooldownPending},
		{"four hours, cooled down", 4 * time.Hour, now.Add(-time.Hour), Allowed},
		{"just under the daily limit", 8*time.Hour - time.Second, now.Add(-2 * time.Hour), Allowed},
		{"exactly the daily limit", 8 * time.Hour, now.Add(-2 * time.Hour), DailyLimitReached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := Summary{Total: tt.total, LastEnd: tt.lastEnd}
			assert.Equal(t, tt.want, testLimits.CheckStart(sum, now))
		})
	}
}

func TestLimits_CheckOveruse(t *testing.T) {
	dayStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now := dayStart.Add(12 * time.Hour)

	long := []*model.UsageSession{{StartTime: now.Add(-4*time.Hour - 10*time.Minute)}}
	short := []*model.UsageSession{{StartTime: now.Add(-3 * time.Hour)}}
	second := []*model.UsageSession{
		{StartTime: dayStart.Add(time.Hour), EndTime: ended(dayStart.Add(2 * time.Hour))},
		{StartTime: now.Add(-5 * time.Hour)},
	}
	allDay := []*model.UsageSession{
		{StartTime: dayStart.Add(time.Hour), EndTime: ended(dayStart.Add(6 * time.Hour))},
		{StartTime: now.Add(-3 * time.Hour)},
	}

	tests := []struct {
		name     string
		sessions []*model.UsageSession
		handled  bool
		want     Overuse
	}{
		{"first session past the limit", long, false, OverFirstSession},
		{"first session already handled", long, true, NoOveruse},
		{"first session under the limit", short, false, NoOveruse},
		{"later session is not the first", second, false, NoOveruse},
		{"daily limit reached", allDay, true, OverDailyLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := Summarize(tt.sessions, dayStart, now)
			assert.Equal(t, tt.want, testLimits.CheckOveruse(sum, tt.handled, now))
		})
	}
}
