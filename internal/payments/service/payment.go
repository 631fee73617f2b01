package service

import (
	"context"
	"errors"
	"fmt"
	extensionsrepository "rover/internal/extensions/repository"
	paymentserrors "rover/internal/payments/errors"
	"rover/internal/payments/repository"
	"rover/internal/payments/validator"
	rentalserrors "rover/internal/rentals/errors"
	rentalsrepository "rover/internal/rentals/repository"
	"rover/pkg/clock"
	"rover/pkg/config"
	mongotx "rover/pkg/db/mongo"
	apperrors "rover/pkg/errors"
	"rover/pkg/model"
	"rover/pkg/notify"
	"rover/pkg/validation"
	"time"
)

// RentalActivator turns a paid pending rental into an active one.
type RentalActivator interface {
	ActivateFromPayment(ctx context.Context, rentalID string) error
}

// ExtensionCompleter applies a paid extension to its rental.
type ExtensionCompleter interface {
	CompleteFromPayment(ctx context.Context, extensionID string) error
}

type PaymentService interface {
	// VerifyPayment applies a provider result. Re-delivering a result that
	// was already applied succeeds without side effects.
	VerifyPayment(ctx context.Context, actor model.Actor, verification *model.PaymentVerification) (*model.Payment, error)
	GetByID(ctx context.Context, actor model.Actor, id string) (*model.Payment, error)
	ListByRental(ctx context.Context, actor model.Actor, rentalID string) ([]*model.Payment, error)
}

type paymentService struct {
	repo       repository.PaymentRepository
	rentals    rentalsrepository.RentalRepository
	extensions extensionsrepository.ExtensionRepository
	activator  RentalActivator
	completer  ExtensionCompleter
	notifier   notify.Notifier
	tx         mongotx.TransactionManager
	validator  *validator.PaymentValidator
	clock      clock.Clock
	cfg        *config.Config
}

func NewPaymentService(
	repo repository.PaymentRepository,
	rentals rentalsrepository.RentalRepository,
	extensions extensionsrepository.ExtensionRepository,
	activator RentalActivator,
	completer ExtensionCompleter,
	notifier notify.Notifier,
	tx mongotx.TransactionManager,
	validator *validator.PaymentValidator,
	clk clock.Clock,
	cfg *config.Config,
) PaymentService {
	return &paymentService{
		repo:       repo,
		rentals:    rentals,
		extensions: extensions,
		activator:  activator,
		completer:  completer,
		notifier:   notifier,
		tx:         tx,
		validator:  validator,
		clock:      clk,
		cfg:        cfg,
	}
}

func (s *paymentService) translate(err error, id, action string) error {
	switch {
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, paymentserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Payment", id)
	case errors.Is(err, paymentserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid payment ID format")
	case errors.Is(err, rentalserrors.ErrNotFound):
		return apperrors.NotFound("Rental")
	case errors.Is(err, rentalserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid rental ID format")
	}
	s.cfg.Log.Error("Payment operation failed",
		"id", id,
		"action", action,
		"error", err,
	)
	return apperrors.Internal("Failed to "+action, err)
}

func (s *paymentService) resolve(ctx context.Context, v *model.PaymentVerification) (*model.Payment, error) {
	if v.PaymentID != "" {
		payment, err := s.repo.FindByID(ctx, v.PaymentID)
		if err != nil {
			return nil, err
		}
		if v.RentalID != "" && payment.RentalID != v.RentalID {
			return nil, apperrors.Conflict("Payment does not belong to the given rental")
		}
		return payment, nil
	}
	return s.repo.FindLatest(ctx, v.RentalID, v.Type)
}

func (s *paymentService) VerifyPayment(ctx context.Context, actor model.Actor, verification *model.PaymentVerification) (*model.Payment, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("Payment verification is restricted to admins")
	}
	if err := s.validator.ValidateVerification(verification); err != nil {
		s.cfg.Log.Warn("Payment verification validation failed",
			"payment_id", verification.PaymentID,
			"rental_id", verification.RentalID,
			"error", err,
		)
		return nil, validation.ToAppError(err)
	}

	now := s.clock.Now()
	ref := verification.PaymentID
	if ref == "" {
		ref = verification.RentalID
	}

	var (
		payment *model.Payment
		applied bool
	)
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		var err error
		applied = false
		payment, err = s.resolve(ctx, verification)
		if err != nil {
			return err
		}
		if payment.Type != verification.Type {
			return apperrors.Conflict(fmt.Sprintf("Payment is of type %s, not %s", payment.Type, verification.Type))
		}

		switch payment.Status {
		case verification.Status:
			return nil
		case model.PaymentCompleted, model.PaymentFailed:
			return apperrors.Conflict(fmt.Sprintf("Payment is already %s", payment.Status))
		}

		if verification.Status == model.PaymentFailed {
			if err := s.fail(ctx, payment, now); err != nil {
				return err
			}
		} else if err := s.complete(ctx, payment, now); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, s.translate(err, ref, "verify payment")
	}

	if !applied {
		s.cfg.Log.Info("Payment result already applied",
			"payment_id", payment.ID,
			"status", payment.Status,
		)
		return payment, nil
	}

	payment.Status = verification.Status
	payment.UpdatedAt = now
	if verification.Status == model.PaymentCompleted {
		payment.PaidAt = &now
	} else {
		s.notifyFailed(ctx, payment)
	}

	s.cfg.Log.Info("Payment verified",
		"payment_id", payment.ID,
		"rental_id", payment.RentalID,
		"payment_type", payment.Type,
		"status", payment.Status,
		"verified_by", actor.UserID,
	)
	return payment, nil
}

func (s *paymentService) complete(ctx context.Context, payment *model.Payment, now time.Time) error {
	ok, err := s.repo.MarkCompleted(ctx, payment.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflict("Payment status changed concurrently, retry the operation")
	}

	switch payment.Type {
	case model.PaymentInitial:
		return s.activator.ActivateFromPayment(ctx, payment.RentalID)
	case model.PaymentExtension:
		return s.completer.CompleteFromPayment(ctx, payment.ExtensionID)
	}
	return apperrors.Internal("Unknown payment type", fmt.Errorf("payment %s has type %q", payment.ID, payment.Type))
}

func (s *paymentService) fail(ctx context.Context, payment *model.Payment, now time.Time) error {
	ok, err := s.repo.MarkFailed(ctx, payment.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflict("Payment status changed concurrently, retry the operation")
	}
	if payment.Type == model.PaymentExtension {
		if _, err := s.extensions.MarkFailed(ctx, payment.ExtensionID, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *paymentService) notifyFailed(ctx context.Context, payment *model.Payment) {
	rental, err := s.rentals.FindByID(ctx, payment.RentalID)
	if err != nil {
		s.cfg.Log.Error("Failed to look up rental for payment notification",
			"payment_id", payment.ID,
			"rental_id", payment.RentalID,
			"error", err,
		)
		return
	}

	err = s.notifier.Notify(ctx, notify.Notification{
		Kind:   notify.KindPaymentFailed,
		UserID: rental.UserID,
		Payload: map[string]any{
			"rental_id":    payment.RentalID,
			"payment_id":   payment.ID,
			"payment_type": payment.Type,
		},
		SentAt: s.clock.Now(),
	})
	if err != nil {
		s.cfg.Log.Error("Failed to send payment failure notification",
			"payment_id", payment.ID,
			"user_id", rental.UserID,
			"error", err,
		)
	}
}

// ownedRental checks that actor may see payments of rentalID.
func (s *paymentService) ownedRental(ctx context.Context, actor model.Actor, rentalID string) error {
	rental, err := s.rentals.FindByID(ctx, rentalID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && rental.UserID != actor.UserID {
		return apperrors.NotFoundWithID("Rental", rentalID)
	}
	return nil
}

func (s *paymentService) GetByID(ctx context.Context, actor model.Actor, id string) (*model.Payment, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Payment ID cannot be empty")
	}
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, id, "retrieve payment")
	}
	if err := s.ownedRental(ctx, actor, payment.RentalID); err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) || errors.Is(err, rentalserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Payment", id)
		}
		return nil, s.translate(err, id, "retrieve payment")
	}
	return payment, nil
}

func (s *paymentService) ListByRental(ctx context.Context, actor model.Actor, rentalID string) ([]*model.Payment, error) {
	if rentalID == "" {
		return nil, apperrors.InvalidInput("Rental ID cannot be empty")
	}
	if err := s.ownedRental(ctx, actor, rentalID); err != nil {
		return nil, s.translate(err, rentalID, "retrieve rental")
	}
	payments, err := s.repo.FindByRental(ctx, rentalID)
	if err != nil {
		return nil, s.translate(err, rentalID, "list payments")
	}
	return payments, nil
}
