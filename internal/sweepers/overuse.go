package sweepers

import (
	"context"
	"fmt"
	devicesrepository "rover/internal/devices/repository"
	usage "rover/internal/usage/service"
	"rover/pkg/clock"
	mongotx "rover/pkg/db/mongo"
	"rover/pkg/devicecmd"
	"rover/pkg/logger"
	"rover/pkg/model"
	"time"
)

// OveruseSweeper powers off devices that ran past the first-session limit
// or reached the daily limit. A device forced off for its first session is
// flagged so it is handled once per local day.
type OveruseSweeper struct {
	devices  devicesrepository.DeviceRepository
	tracker  *usage.Tracker
	commands devicecmd.Sender
	tx       mongotx.TransactionManager
	clock    clock.Clock
	interval time.Duration
	log      *logger.Logger
}

func NewOveruseSweeper(
	devices devicesrepository.DeviceRepository,
	tracker *usage.Tracker,
	commands devicecmd.Sender,
	tx mongotx.TransactionManager,
	clk clock.Clock,
	interval time.Duration,
	log *logger.Logger,
) *OveruseSweeper {
	return &OveruseSweeper{
		devices:  devices,
		tracker:  tracker,
		commands: commands,
		tx:       tx,
		clock:    clk,
		interval: interval,
		log:      log,
	}
}

func (s *OveruseSweeper) Name() string            { return Overuse }
func (s *OveruseSweeper) Interval() time.Duration { return s.interval }

type forcedOff struct {
	deviceID string
	reason   usage.Overuse
}

func (s *OveruseSweeper) Tick(ctx context.Context) (Result, error) {
	res := Result{Sweeper: Overuse}
	now := s.clock.Now()
	limits := s.tracker.Limits()

	var stopped []forcedOff
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		stopped = stopped[:0]
		reset, err := s.devices.ResetFirstSessionFlags(ctx, s.tracker.DayStart(now))
		if err != nil {
			return fmt.Errorf("failed to reset first session flags: %w", err)
		}
		if reset > 0 {
			s.log.Debug("Reset first session flags from previous days", "count", reset)
		}

		running, err := s.devices.ListPoweredOn(ctx)
		if err != nil {
			return fmt.Errorf("failed to list powered on devices: %w", err)
		}

		for _, device := range running {
			sum, err := s.tracker.TodayUsage(ctx, device.ID, now)
			if err != nil {
				return fmt.Errorf("failed to summarize usage of device %s: %w", device.ID, err)
			}
			reason := limits.CheckOveruse(sum, device.FirstSessionFlag, now)
			if reason == usage.NoOveruse {
				continue
			}

			ran, err := s.tracker.LogSessionEnd(ctx, device.ID, now)
			if err != nil {
				return fmt.Errorf("failed to close session of device %s: %w", device.ID, err)
			}
			if err := s.devices.MarkPoweredOff(ctx, device.ID, int64(ran/time.Second)); err != nil {
				return fmt.Errorf("failed to power off device %s: %w", device.ID, err)
			}
			if reason == usage.OverFirstSession {
				if err := s.devices.SetFirstSessionFlag(ctx, device.ID, now); err != nil {
					return fmt.Errorf("failed to flag device %s: %w", device.ID, err)
				}
			}
			stopped = append(stopped, forcedOff{deviceID: device.ID, reason: reason})
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Affected = len(stopped)

	for _, off := range stopped {
		err := s.commands.Send(ctx, devicecmd.Command{
			DeviceID: off.deviceID,
			Action:   model.ActionOff,
			Reason:   "overuse:" + off.reason.String(),
			IssuedAt: now,
		})
		if err != nil {
			res.Failures++
			s.log.Error("Failed to send overuse power off",
				"device_id", off.deviceID,
				"reason", off.reason.String(),
				"error", err,
			)
			continue
		}
		res.Notified++
		s.log.Info("Device forced off for overuse",
			"device_id", off.deviceID,
			"reason", off.reason.String(),
		)
	}
	return res, nil
}
