package service

import (
	"context"
	"errors"
	"fmt"
	"rover/internal/devices/allocator"
	deviceserrors "rover/internal/devices/errors"
	devicesrepository "rover/internal/devices/repository"
	paymentsrepository "rover/internal/payments/repository"
	rentalserrors "rover/internal/rentals/errors"
	"rover/internal/rentals/repository"
	"rover/internal/rentals/validator"
	usage "rover/internal/usage/service"
	"rover/pkg/clock"
	"rover/pkg/config"
	mongotx "rover/pkg/db/mongo"
	"rover/pkg/devicecmd"
	apperrors "rover/pkg/errors"
	"rover/pkg/model"
	"rover/pkg/validation"
	"time"

	"golang.org/x/sync/errgroup"
)

type RentalService interface {
	AddRental(ctx context.Context, actor model.Actor, req *model.RentalRequest) (*model.RentalCreated, error)
	GetByID(ctx context.Context, actor model.Actor, id string) (*model.Rental, error)
	GetAll(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Rental, int64, error)
	Cancel(ctx context.Context, actor model.Actor, id string) error
	ChangeStatus(ctx context.Context, actor model.Actor, id string, change *model.RentalStatusChange) error
	Delete(ctx context.Context, actor model.Actor, id string) error

	// ActivateFromPayment runs inside the payment verification transaction.
	ActivateFromPayment(ctx context.Context, rentalID string) error
}

type rentalService struct {
	repo      repository.RentalRepository
	payments  paymentsrepository.PaymentRepository
	devices   devicesrepository.DeviceRepository
	allocator *allocator.Allocator
	tracker   *usage.Tracker
	commands  devicecmd.Sender
	tx        mongotx.TransactionManager
	validator *validator.RentalValidator
	clock     clock.Clock
	cfg       *config.Config
}

func NewRentalService(
	repo repository.RentalRepository,
	payments paymentsrepository.PaymentRepository,
	devices devicesrepository.DeviceRepository,
	allocator *allocator.Allocator,
	tracker *usage.Tracker,
	commands devicecmd.Sender,
	tx mongotx.TransactionManager,
	validator *validator.RentalValidator,
	clk clock.Clock,
	cfg *config.Config,
) RentalService {
	return &rentalService{
		repo:      repo,
		payments:  payments,
		devices:   devices,
		allocator: allocator,
		tracker:   tracker,
		commands:  commands,
		tx:        tx,
		validator: validator,
		clock:     clk,
		cfg:       cfg,
	}
}

func (s *rentalService) translate(err error, id, action string) error {
	switch {
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, rentalserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Rental", id)
	case errors.Is(err, rentalserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid rental ID format")
	case errors.Is(err, rentalserrors.ErrStatusChanged):
		return apperrors.Conflict("Rental status changed concurrently, retry the operation")
	case errors.Is(err, deviceserrors.ErrNoDeviceAvailable):
		return apperrors.Conflict("No device available")
	}
	s.cfg.Log.Error("Rental operation failed",
		"rental_id", id,
		"action", action,
		"error", err,
	)
	return apperrors.Internal("Failed to "+action, err)
}

func (s *rentalService) AddRental(ctx context.Context, actor model.Actor, req *model.RentalRequest) (*model.RentalCreated, error) {
	if err := s.validator.ValidateRequest(req); err != nil {
		s.cfg.Log.Warn("Rental request validation failed",
			"user_id", actor.UserID,
			"interval_months", req.IntervalMonths,
			"error", err,
		)
		return nil, validation.ToAppError(err)
	}

	now := s.clock.Now()
	rentalID := repository.NewID()
	cost := int64(req.IntervalMonths) * s.cfg.MonthlyRate

	var created *model.RentalCreated
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		claim, err := s.allocator.ClaimFreeDevice(ctx, rentalID)
		if err != nil {
			return err
		}

		rental := &model.Rental{
			ID:             rentalID,
			UserID:         actor.UserID,
			Status:         model.RentalPending,
			IntervalMonths: req.IntervalMonths,
			Cost:           cost,
			ReservedUntil:  &claim.ReservedUntil,
			CreatedAt:      now,
		}
		if err := s.repo.Create(ctx, rental); err != nil {
			return fmt.Errorf("failed to create rental: %w", err)
		}

		payment := &model.Payment{
			RentalID:  rentalID,
			Amount:    cost,
			Status:    model.PaymentPending,
			Type:      model.PaymentInitial,
			CreatedAt: now,
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			return fmt.Errorf("failed to create initial payment: %w", err)
		}

		created = &model.RentalCreated{
			RentalID:      rentalID,
			PaymentID:     payment.ID,
			DeviceID:      claim.DeviceID,
			Cost:          cost,
			ReservedUntil: claim.ReservedUntil,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, deviceserrors.ErrNoDeviceAvailable) {
			s.cfg.Log.Info("Rental refused, no device available", "user_id", actor.UserID)
		}
		return nil, s.translate(err, rentalID, "create rental")
	}

	s.cfg.Log.Info("Rental created",
		"rental_id", created.RentalID,
		"user_id", actor.UserID,
		"device_id", created.DeviceID,
		"interval_months", req.IntervalMonths,
		"cost", cost,
		"reserved_until", created.ReservedUntil,
	)
	return created, nil
}

// load fetches a rental within the actor's scope. Rentals of other users
// are reported missing.
func (s *rentalService) load(ctx context.Context, actor model.Actor, id string) (*model.Rental, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Rental ID cannot be empty")
	}
	rental, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, id, "retrieve rental")
	}
	if !actor.IsAdmin() && rental.UserID != actor.UserID {
		return nil, apperrors.NotFoundWithID("Rental", id)
	}
	return rental, nil
}

func (s *rentalService) GetByID(ctx context.Context, actor model.Actor, id string) (*model.Rental, error) {
	rental, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	deviceID, err := s.allocator.DeviceOf(ctx, id)
	if err != nil {
		return nil, s.translate(err, id, "retrieve rental device")
	}
	rental.DeviceID = deviceID
	return rental, nil
}

func (s *rentalService) GetAll(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Rental, int64, error) {
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	userID := actor.UserID
	if actor.IsAdmin() {
		userID = ""
	}

	var (
		rentals []*model.Rental
		count   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		count, err = s.repo.Count(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		rentals, err = s.repo.FindAll(gctx, userID, limit, offset)
		return err
	})
	if err := g.Wait(); err != nil {
		s.cfg.Log.Error("Failed to list rentals",
			"user_id", userID,
			"limit", limit,
			"offset", offset,
			"error", err,
		)
		return nil, 0, apperrors.Internal("Failed to retrieve rentals", err)
	}
	return rentals, count, nil
}

// cancelPending moves a pending rental to cancelled, drops its device hold
// and fails its initial payment. It must run inside a transaction.
func (s *rentalService) cancelPending(ctx context.Context, rental *model.Rental, now time.Time) error {
	if rental.Status != model.RentalPending {
		return apperrors.Conflict(fmt.Sprintf("Only pending rentals can be cancelled, rental is %s", rental.Status))
	}
	if err := s.repo.Transition(ctx, rental.ID, []model.RentalStatus{model.RentalPending}, model.RentalCancelled, now); err != nil {
		return err
	}
	if _, err := s.allocator.ClearReservation(ctx, rental.ID); err != nil {
		return err
	}
	if _, err := s.payments.FailPendingForRental(ctx, rental.ID, model.PaymentInitial, now); err != nil {
		return err
	}
	return nil
}

// releaseDevice returns the rental's device to the pool. A device still
// running is powered off first and its usage session closed; its id is
// returned so the off command can be sent after commit. It must run inside
// a transaction.
func (s *rentalService) releaseDevice(ctx context.Context, rentalID string, now time.Time) (string, error) {
	var stopped string
	device, err := s.devices.FindByRental(ctx, rentalID)
	switch {
	case errors.Is(err, deviceserrors.ErrNotFound):
	case err != nil:
		return "", err
	case device.Status == model.DeviceActive:
		ran, err := s.tracker.LogSessionEnd(ctx, device.ID, now)
		if err != nil {
			return "", err
		}
		if err := s.devices.MarkPoweredOff(ctx, device.ID, int64(ran/time.Second)); err != nil {
			return "", err
		}
		stopped = device.ID
	}
	return stopped, s.allocator.ReleaseAssignment(ctx, rentalID)
}

func (s *rentalService) sendOff(ctx context.Context, deviceID, rentalID string, now time.Time) {
	if deviceID == "" {
		return
	}
	err := s.commands.Send(ctx, devicecmd.Command{
		DeviceID: deviceID,
		Action:   model.ActionOff,
		Reason:   "rental:released",
		IssuedAt: now,
	})
	if err != nil {
		s.cfg.Log.Error("Failed to send power off for released device",
			"device_id", deviceID,
			"rental_id", rentalID,
			"error", err,
		)
		return
	}
	s.cfg.Log.Info("Released device powered off", "device_id", deviceID, "rental_id", rentalID)
}

func (s *rentalService) Cancel(ctx context.Context, actor model.Actor, id string) error {
	if actor.IsAdmin() {
		return apperrors.Forbidden("Only the renting user can cancel a rental, admins change the status instead")
	}

	now := s.clock.Now()
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		rental, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		return s.cancelPending(ctx, rental, now)
	})
	if err != nil {
		return s.translate(err, id, "cancel rental")
	}

	s.cfg.Log.Info("Rental cancelled by user", "rental_id", id, "user_id", actor.UserID)
	return nil
}

func (s *rentalService) ChangeStatus(ctx context.Context, actor model.Actor, id string, change *model.RentalStatusChange) error {
	if !actor.IsAdmin() {
		return apperrors.Forbidden("Rental status changes are restricted to admins")
	}
	if err := s.validator.ValidateStatusChange(change); err != nil {
		return validation.ToAppError(err)
	}

	now := s.clock.Now()
	var (
		from    model.RentalStatus
		stopped string
	)
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		stopped = ""
		rental, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		from = rental.Status

		switch change.Status {
		case model.RentalCompleted:
			if rental.Status != model.RentalActive && rental.Status != model.RentalAwaitingReturn {
				return apperrors.Conflict(fmt.Sprintf("Rental cannot move from %s to %s", rental.Status, change.Status))
			}
			allowed := []model.RentalStatus{model.RentalActive, model.RentalAwaitingReturn}
			if err := s.repo.Transition(ctx, id, allowed, model.RentalCompleted, now); err != nil {
				return err
			}
			stopped, err = s.releaseDevice(ctx, id, now)
			return err
		case model.RentalCancelled:
			return s.cancelPending(ctx, rental, now)
		case model.RentalActive:
			return apperrors.Conflict("Rentals become active when their initial payment is verified")
		case model.RentalAwaitingReturn:
			return apperrors.Conflict("Rentals await return once their term has ended")
		default:
			return apperrors.Conflict(fmt.Sprintf("Rental cannot move from %s to %s", rental.Status, change.Status))
		}
	})
	if err != nil {
		return s.translate(err, id, "change rental status")
	}
	s.sendOff(ctx, stopped, id, now)

	s.cfg.Log.Info("Rental status changed",
		"rental_id", id,
		"from", from,
		"to", change.Status,
		"admin_id", actor.UserID,
	)
	return nil
}

func (s *rentalService) Delete(ctx context.Context, actor model.Actor, id string) error {
	if !actor.IsAdmin() {
		return apperrors.Forbidden("Rental deletion is restricted to admins")
	}

	now := s.clock.Now()
	var stopped string
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		stopped = ""
		rental, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}

		switch rental.Status {
		case model.RentalActive:
			return apperrors.Conflict("Active rentals cannot be deleted")
		case model.RentalPending:
			if err := s.cancelPending(ctx, rental, now); err != nil {
				return err
			}
		case model.RentalAwaitingReturn:
			if stopped, err = s.releaseDevice(ctx, id, now); err != nil {
				return err
			}
		}
		return s.repo.SoftDelete(ctx, id, now)
	})
	if err != nil {
		return s.translate(err, id, "delete rental")
	}
	s.sendOff(ctx, stopped, id, now)

	s.cfg.Log.Info("Rental deleted", "rental_id", id, "admin_id", actor.UserID)
	return nil
}

func (s *rentalService) ActivateFromPayment(ctx context.Context, rentalID string) error {
	rental, err := s.repo.FindByID(ctx, rentalID)
	if err != nil {
		return s.translate(err, rentalID, "activate rental")
	}

	switch rental.Status {
	case model.RentalPending:
	case model.RentalActive:
		s.cfg.Log.Info("Rental already active, skipping activation", "rental_id", rentalID)
		return nil
	default:
		return apperrors.Conflict(fmt.Sprintf("Rental is %s and cannot be activated", rental.Status))
	}

	now := s.clock.Now()
	end := now.AddDate(0, rental.IntervalMonths, 0)
	if err := s.repo.Activate(ctx, rentalID, now, end, now); err != nil {
		return s.translate(err, rentalID, "activate rental")
	}

	deviceID, err := s.allocator.FinalizeAssignment(ctx, rentalID)
	if err != nil {
		if errors.Is(err, deviceserrors.ErrNoDeviceAvailable) {
			return apperrors.Conflict("No device available to assign to the rental")
		}
		return s.translate(err, rentalID, "assign device")
	}

	s.cfg.Log.Info("Rental activated",
		"rental_id", rentalID,
		"device_id", deviceID,
		"start_date", now,
		"end_date", end,
	)
	return nil
}
