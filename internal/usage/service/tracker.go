package service

import (
	"context"
	"fmt"
	"rover/internal/usage/repository"
	"rover/pkg/clock"
	mongotx "rover/pkg/db/mongo"
	apperrors "rover/pkg/errors"
	"rover/pkg/logger"
	"rover/pkg/model"
	"time"
)

// DeviceLocker serializes usage bookkeeping for one device within the
// caller's transaction.
type DeviceLocker interface {
	LockForUsage(ctx context.Context, id string) error
}

// Tracker enforces the daily usage quota and keeps the session log.
type Tracker struct {
	sessions repository.SessionRepository
	devices  DeviceLocker
	tx       mongotx.TransactionManager
	limits   Limits
	loc      *time.Location
	log      *logger.Logger
}

func NewTracker(
	sessions repository.SessionRepository,
	devices DeviceLocker,
	tx mongotx.TransactionManager,
	limits Limits,
	loc *time.Location,
	log *logger.Logger,
) *Tracker {
	return &Tracker{
		sessions: sessions,
		devices:  devices,
		tx:       tx,
		limits:   limits,
		loc:      loc,
		log:      log,
	}
}

func (t *Tracker) Limits() Limits {
	return t.limits
}

// DayStart is local midnight of now in the fleet time zone.
func (t *Tracker) DayStart(now time.Time) time.Time {
	return clock.StartOfDay(now, t.loc)
}

// TodayUsage summarizes the device's sessions since local midnight.
func (t *Tracker) TodayUsage(ctx context.Context, deviceID string, now time.Time) (Summary, error) {
	dayStart := t.DayStart(now)
	sessions, err := t.sessions.FindSince(ctx, deviceID, dayStart)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load usage sessions: %w", err)
	}
	return Summarize(sessions, dayStart, now), nil
}

// CheckAndLogSessionStart refuses a start that would break the quota.
// Otherwise it closes any dangling session and opens a new one at now.
func (t *Tracker) CheckAndLogSessionStart(ctx context.Context, deviceID string, now time.Time) error {
	return t.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		if err := t.devices.LockForUsage(ctx, deviceID); err != nil {
			return err
		}

		sum, err := t.TodayUsage(ctx, deviceID, now)
		if err != nil {
			return err
		}
		if rejection := t.limits.CheckStart(sum, now); rejection != Allowed {
			t.log.Info("Session start refused",
				"device_id", deviceID,
				"reason", string(rejection),
				"hours_today", sum.Hours(),
			)
			return apperrors.PolicyViolation(string(rejection), map[string]any{
				"device_id":   deviceID,
				"hours_today": sum.Hours(),
			})
		}

		if _, err := t.sessions.CloseOpen(ctx, deviceID, now); err != nil {
			return err
		}
		return t.sessions.Open(ctx, &model.UsageSession{DeviceID: deviceID, StartTime: now})
	})
}

// LogSessionEnd closes the open session of the device and returns how long
// it ran. A device with no open session yields zero.
func (t *Tracker) LogSessionEnd(ctx context.Context, deviceID string, now time.Time) (time.Duration, error) {
	var ran time.Duration
	err := t.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		ran = 0
		if err := t.devices.LockForUsage(ctx, deviceID); err != nil {
			return err
		}
		closed, err := t.sessions.CloseOpen(ctx, deviceID, now)
		if err != nil {
			return err
		}
		for _, s := range closed {
			ran += s.End(now).Sub(s.StartTime)
		}
		return nil
	})
	return ran, err
}
