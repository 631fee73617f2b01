package service

import (
	"context"
	"errors"
	deviceserrors "rover/internal/devices/errors"
	"rover/internal/devices/repository"
	"rover/internal/devices/validator"
	rentalserrors "rover/internal/rentals/errors"
	rentalsrepository "rover/internal/rentals/repository"
	usage "rover/internal/usage/service"
	"rover/pkg/clock"
	"rover/pkg/config"
	mongotx "rover/pkg/db/mongo"
	"rover/pkg/devicecmd"
	apperrors "rover/pkg/errors"
	"rover/pkg/model"
	"rover/pkg/validation"

	"golang.org/x/sync/errgroup"
)

type DeviceService interface {
	Create(ctx context.Context, actor model.Actor) (*model.Device, error)
	GetByID(ctx context.Context, actor model.Actor, id string) (*model.Device, error)
	GetAll(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Device, int64, error)
	SetStatus(ctx context.Context, actor model.Actor, id string, change *model.DeviceStatusChange) error
	Delete(ctx context.Context, actor model.Actor, id string) error

	// Control powers the device on or off and returns its new status.
	Control(ctx context.Context, actor model.Actor, id string, req *model.DeviceControlRequest) (model.DeviceStatus, error)
	Usage(ctx context.Context, actor model.Actor, id string) (*model.DeviceUsage, error)
}

type deviceService struct {
	repo      repository.DeviceRepository
	rentals   rentalsrepository.RentalRepository
	tracker   *usage.Tracker
	commands  devicecmd.Sender
	tx        mongotx.TransactionManager
	validator *validator.DeviceValidator
	clock     clock.Clock
	cfg       *config.Config
}

func NewDeviceService(
	repo repository.DeviceRepository,
	rentals rentalsrepository.RentalRepository,
	tracker *usage.Tracker,
	commands devicecmd.Sender,
	tx mongotx.TransactionManager,
	validator *validator.DeviceValidator,
	clk clock.Clock,
	cfg *config.Config,
) DeviceService {
	return &deviceService{
		repo:      repo,
		rentals:   rentals,
		tracker:   tracker,
		commands:  commands,
		tx:        tx,
		validator: validator,
		clock:     clk,
		cfg:       cfg,
	}
}

func requireAdmin(actor model.Actor) error {
	if !actor.IsAdmin() {
		return apperrors.Forbidden("Device registry is restricted to admins")
	}
	return nil
}

func (s *deviceService) translate(err error, id, action string) error {
	switch {
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, deviceserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Device", id)
	case errors.Is(err, deviceserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid device ID format")
	case errors.Is(err, deviceserrors.ErrDeviceBusy):
		return apperrors.Conflict("Device is powered on, reserved or assigned")
	}
	s.cfg.Log.Error("Device operation failed",
		"device_id", id,
		"action", action,
		"error", err,
	)
	return apperrors.Internal("Failed to "+action, err)
}

func (s *deviceService) Create(ctx context.Context, actor model.Actor) (*model.Device, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	device := &model.Device{Status: model.DeviceInactive, Assignment: model.Free()}
	if err := s.repo.Create(ctx, device); err != nil {
		return nil, s.translate(err, "", "create device")
	}

	s.cfg.Log.Info("Device registered", "device_id", device.ID)
	return device, nil
}

// authorize loads the device and checks that a user actor holds it through
// an active rental. Devices outside the caller's scope are reported missing.
func (s *deviceService) authorize(ctx context.Context, actor model.Actor, id string, allowed ...model.RentalStatus) (*model.Device, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Device ID cannot be empty")
	}
	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, id, "retrieve device")
	}
	if actor.IsAdmin() {
		return device, nil
	}

	if !device.Assignment.IsAssigned() {
		return nil, apperrors.NotFoundWithID("Device", id)
	}
	rental, err := s.rentals.FindByID(ctx, device.Assignment.RentalID())
	if err != nil {
		if errors.Is(err, rentalserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Device", id)
		}
		return nil, s.translate(err, id, "retrieve device rental")
	}
	if rental.UserID != actor.UserID {
		return nil, apperrors.NotFoundWithID("Device", id)
	}
	for _, status := range allowed {
		if rental.Status == status {
			return device, nil
		}
	}
	return nil, apperrors.NotFoundWithID("Device", id)
}

func (s *deviceService) GetByID(ctx context.Context, actor model.Actor, id string) (*model.Device, error) {
	return s.authorize(ctx, actor, id, model.RentalActive, model.RentalAwaitingReturn)
}

func (s *deviceService) GetAll(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Device, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	var (
		devices []*model.Device
		count   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		count, err = s.repo.Count(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		devices, err = s.repo.FindAll(gctx, limit, offset)
		return err
	})
	if err := g.Wait(); err != nil {
		s.cfg.Log.Error("Failed to list devices", "limit", limit, "offset", offset, "error", err)
		return nil, 0, apperrors.Internal("Failed to retrieve devices", err)
	}
	return devices, count, nil
}

func (s *deviceService) SetStatus(ctx context.Context, actor model.Actor, id string, change *model.DeviceStatusChange) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.validator.ValidateStatusChange(change); err != nil {
		return validation.ToAppError(err)
	}

	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		device, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if device.Status == model.DeviceActive {
			return apperrors.Conflict("Device is powered on, turn it off first")
		}
		return s.repo.SetStatus(ctx, id, change.Status)
	})
	if err != nil {
		return s.translate(err, id, "change device status")
	}

	s.cfg.Log.Info("Device status changed", "device_id", id, "status", change.Status)
	return nil
}

func (s *deviceService) Delete(ctx context.Context, actor model.Actor, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id, s.clock.Now()); err != nil {
		return s.translate(err, id, "delete device")
	}

	s.cfg.Log.Info("Device deleted", "device_id", id)
	return nil
}

func (s *deviceService) Control(ctx context.Context, actor model.Actor, id string, req *model.DeviceControlRequest) (model.DeviceStatus, error) {
	if err := s.validator.ValidateControl(req); err != nil {
		return "", validation.ToAppError(err)
	}

	allowed := []model.RentalStatus{model.RentalActive}
	if req.Action == model.ActionOff {
		allowed = append(allowed, model.RentalAwaitingReturn)
	}
	device, err := s.authorize(ctx, actor, id, allowed...)
	if err != nil {
		return "", err
	}
	if device.Status == model.DeviceMaintenance || device.Status == model.DeviceError {
		return "", apperrors.Conflict("Device is unavailable: " + string(device.Status))
	}

	now := s.clock.Now()
	var status model.DeviceStatus
	err = s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		switch req.Action {
		case model.ActionOn:
			if err := s.tracker.CheckAndLogSessionStart(ctx, id, now); err != nil {
				return err
			}
			status = model.DeviceActive
			return s.repo.MarkPoweredOn(ctx, id)
		default:
			ran, err := s.tracker.LogSessionEnd(ctx, id, now)
			if err != nil {
				return err
			}
			status = model.DeviceInactive
			return s.repo.MarkPoweredOff(ctx, id, int64(ran.Seconds()))
		}
	})
	if err != nil {
		return "", s.translate(err, id, "control device")
	}

	cmd := devicecmd.Command{DeviceID: id, Action: req.Action, Reason: "user", IssuedAt: now}
	if actor.IsAdmin() {
		cmd.Reason = "admin"
	}
	if err := s.commands.Send(ctx, cmd); err != nil {
		s.cfg.Log.Error("Failed to send device command",
			"device_id", id,
			"action", req.Action,
			"error", err,
		)
	}

	s.cfg.Log.Info("Device controlled",
		"device_id", id,
		"action", req.Action,
		"user_id", actor.UserID,
		"status", status,
	)
	return status, nil
}

func (s *deviceService) Usage(ctx context.Context, actor model.Actor, id string) (*model.DeviceUsage, error) {
	device, err := s.authorize(ctx, actor, id, model.RentalActive, model.RentalAwaitingReturn)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sum, err := s.tracker.TodayUsage(ctx, id, now)
	if err != nil {
		return nil, s.translate(err, id, "compute device usage")
	}
	return &model.DeviceUsage{
		DeviceID:         id,
		DayStart:         sum.DayStart,
		HoursToday:       sum.Hours(),
		SessionOpen:      sum.Open != nil,
		FirstSessionFlag: device.FirstSessionFlag,
	}, nil
}
