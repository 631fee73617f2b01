package service

import (
	"context"
	"errors"
	"fmt"
	extensionserrors "rover/internal/extensions/errors"
	"rover/internal/extensions/repository"
	"rover/internal/extensions/validator"
	paymentsrepository "rover/internal/payments/repository"
	rentalserrors "rover/internal/rentals/errors"
	rentalsrepository "rover/internal/rentals/repository"
	"rover/pkg/clock"
	"rover/pkg/config"
	mongotx "rover/pkg/db/mongo"
	apperrors "rover/pkg/errors"
	"rover/pkg/model"
	"rover/pkg/validation"
)

type ExtensionService interface {
	AddExtension(ctx context.Context, actor model.Actor, rentalID string, req *model.ExtensionRequest) (*model.ExtensionCreated, error)
	GetByID(ctx context.Context, actor model.Actor, id string) (*model.Extension, error)
	ListByRental(ctx context.Context, actor model.Actor, rentalID string) ([]*model.Extension, error)

	// CompleteFromPayment runs inside the payment verification transaction.
	CompleteFromPayment(ctx context.Context, extensionID string) error
}

type extensionService struct {
	repo      repository.ExtensionRepository
	rentals   rentalsrepository.RentalRepository
	payments  paymentsrepository.PaymentRepository
	tx        mongotx.TransactionManager
	validator *validator.ExtensionValidator
	clock     clock.Clock
	cfg       *config.Config
}

func NewExtensionService(
	repo repository.ExtensionRepository,
	rentals rentalsrepository.RentalRepository,
	payments paymentsrepository.PaymentRepository,
	tx mongotx.TransactionManager,
	validator *validator.ExtensionValidator,
	clk clock.Clock,
	cfg *config.Config,
) ExtensionService {
	return &extensionService{
		repo:      repo,
		rentals:   rentals,
		payments:  payments,
		tx:        tx,
		validator: validator,
		clock:     clk,
		cfg:       cfg,
	}
}

func (s *extensionService) translate(err error, id, action string) error {
	switch {
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, extensionserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Extension", id)
	case errors.Is(err, extensionserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid extension ID format")
	case errors.Is(err, rentalserrors.ErrNotFound):
		return apperrors.NotFound("Rental")
	case errors.Is(err, rentalserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid rental ID format")
	case errors.Is(err, rentalserrors.ErrStatusChanged):
		return apperrors.Conflict("Rental status changed concurrently, retry the operation")
	}
	s.cfg.Log.Error("Extension operation failed",
		"id", id,
		"action", action,
		"error", err,
	)
	return apperrors.Internal("Failed to "+action, err)
}

func (s *extensionService) loadRental(ctx context.Context, actor model.Actor, rentalID string) (*model.Rental, error) {
	if rentalID == "" {
		return nil, apperrors.InvalidInput("Rental ID cannot be empty")
	}
	rental, err := s.rentals.FindByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && rental.UserID != actor.UserID {
		return nil, apperrors.NotFoundWithID("Rental", rentalID)
	}
	return rental, nil
}

func (s *extensionService) AddExtension(ctx context.Context, actor model.Actor, rentalID string, req *model.ExtensionRequest) (*model.ExtensionCreated, error) {
	if err := s.validator.ValidateRequest(req); err != nil {
		s.cfg.Log.Warn("Extension request validation failed",
			"rental_id", rentalID,
			"interval_months", req.IntervalMonths,
			"error", err,
		)
		return nil, validation.ToAppError(err)
	}

	now := s.clock.Now()
	amount := int64(req.IntervalMonths) * s.cfg.MonthlyRate

	var created *model.ExtensionCreated
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		rental, err := s.loadRental(ctx, actor, rentalID)
		if err != nil {
			return err
		}
		if rental.Status != model.RentalActive {
			return apperrors.Conflict(fmt.Sprintf("Only active rentals can be extended, rental is %s", rental.Status))
		}

		pending, err := s.repo.HasPending(ctx, rentalID)
		if err != nil {
			return err
		}
		if pending {
			return apperrors.Conflict("Rental already has an extension awaiting payment")
		}

		extension := &model.Extension{
			RentalID:       rentalID,
			Status:         model.ExtensionPendingPayment,
			IntervalMonths: req.IntervalMonths,
			NewEndDate:     rental.EndDate.AddDate(0, req.IntervalMonths, 0),
			Amount:         amount,
			CreatedAt:      now,
		}
		if err := s.repo.Create(ctx, extension); err != nil {
			return fmt.Errorf("failed to create extension: %w", err)
		}

		payment := &model.Payment{
			RentalID:    rentalID,
			ExtensionID: extension.ID,
			Amount:      amount,
			Status:      model.PaymentPending,
			Type:        model.PaymentExtension,
			CreatedAt:   now,
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			return fmt.Errorf("failed to create extension payment: %w", err)
		}

		created = &model.ExtensionCreated{
			ExtensionID: extension.ID,
			PaymentID:   payment.ID,
			NewEndDate:  extension.NewEndDate,
			Amount:      amount,
		}
		return nil
	})
	if err != nil {
		return nil, s.translate(err, rentalID, "create extension")
	}

	s.cfg.Log.Info("Extension requested",
		"extension_id", created.ExtensionID,
		"rental_id", rentalID,
		"interval_months", req.IntervalMonths,
		"new_end_date", created.NewEndDate,
		"amount", amount,
	)
	return created, nil
}

func (s *extensionService) GetByID(ctx context.Context, actor model.Actor, id string) (*model.Extension, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Extension ID cannot be empty")
	}
	extension, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, id, "retrieve extension")
	}
	if _, err := s.loadRental(ctx, actor, extension.RentalID); err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) || errors.Is(err, rentalserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Extension", id)
		}
		return nil, s.translate(err, id, "retrieve extension")
	}
	return extension, nil
}

func (s *extensionService) ListByRental(ctx context.Context, actor model.Actor, rentalID string) ([]*model.Extension, error) {
	if _, err := s.loadRental(ctx, actor, rentalID); err != nil {
		return nil, s.translate(err, rentalID, "retrieve rental")
	}
	extensions, err := s.repo.FindByRental(ctx, rentalID)
	if err != nil {
		return nil, s.translate(err, rentalID, "list extensions")
	}
	return extensions, nil
}

func (s *extensionService) CompleteFromPayment(ctx context.Context, extensionID string) error {
	extension, err := s.repo.FindByID(ctx, extensionID)
	if err != nil {
		return s.translate(err, extensionID, "complete extension")
	}

	switch extension.Status {
	case model.ExtensionPendingPayment:
	case model.ExtensionCompleted:
		s.cfg.Log.Info("Extension already completed, skipping", "extension_id", extensionID)
		return nil
	default:
		return apperrors.Conflict(fmt.Sprintf("Extension is %s and cannot be completed", extension.Status))
	}

	now := s.clock.Now()
	rental, err := s.rentals.FindByID(ctx, extension.RentalID)
	if err != nil {
		return s.translate(err, extensionID, "complete extension")
	}

	ok, err := s.repo.MarkCompleted(ctx, extensionID, extension.NewEndDate, now)
	if err != nil {
		return s.translate(err, extensionID, "complete extension")
	}
	if !ok {
		return apperrors.Conflict("Extension status changed concurrently, retry the operation")
	}

	if err := s.rentals.SetEndDate(ctx, rental.ID, extension.NewEndDate, now); err != nil {
		return s.translate(err, extensionID, "extend rental")
	}

	// A term that lapsed while the payment was in flight is resumed.
	if rental.Status == model.RentalAwaitingReturn && extension.NewEndDate.After(now) {
		from := []model.RentalStatus{model.RentalAwaitingReturn}
		if err := s.rentals.Transition(ctx, rental.ID, from, model.RentalActive, now); err != nil {
			return s.translate(err, extensionID, "resume rental")
		}
	}

	s.cfg.Log.Info("Extension completed",
		"extension_id", extensionID,
		"rental_id", rental.ID,
		"previous_end_date", rental.EndDate,
		"new_end_date", extension.NewEndDate,
	)
	return nil
}
