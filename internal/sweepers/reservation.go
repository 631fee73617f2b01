package sweepers

import (
	"context"
	"errors"
	"fmt"
	"rover/internal/devices/allocator"
	paymentsrepository "rover/internal/payments/repository"
	rentalserrors "rover/internal/rentals/errors"
	rentalsrepository "rover/internal/rentals/repository"
	"rover/pkg/clock"
	mongotx "rover/pkg/db/mongo"
	"rover/pkg/logger"
	"rover/pkg/model"
	"rover/pkg/notify"
	"time"
)

// ReservationSweeper cancels pending rentals whose device hold lapsed
// without payment.
type ReservationSweeper struct {
	rentals   rentalsrepository.RentalRepository
	payments  paymentsrepository.PaymentRepository
	allocator *allocator.Allocator
	tx        mongotx.TransactionManager
	notifier  notify.Notifier
	clock     clock.Clock
	interval  time.Duration
	log       *logger.Logger
}

func NewReservationSweeper(
	rentals rentalsrepository.RentalRepository,
	payments paymentsrepository.PaymentRepository,
	allocator *allocator.Allocator,
	tx mongotx.TransactionManager,
	notifier notify.Notifier,
	clk clock.Clock,
	interval time.Duration,
	log *logger.Logger,
) *ReservationSweeper {
	return &ReservationSweeper{
		rentals:   rentals,
		payments:  payments,
		allocator: allocator,
		tx:        tx,
		notifier:  notifier,
		clock:     clk,
		interval:  interval,
		log:       log,
	}
}

func (s *ReservationSweeper) Name() string            { return Reservation }
func (s *ReservationSweeper) Interval() time.Duration { return s.interval }

func (s *ReservationSweeper) Tick(ctx context.Context) (Result, error) {
	res := Result{Sweeper: Reservation}
	now := s.clock.Now()

	var (
		cancelled []*model.Rental
		orphans   int64
	)
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		cancelled = cancelled[:0]
		expired, err := s.rentals.FindExpiredPending(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to list expired rentals: %w", err)
		}

		for _, rental := range expired {
			err := s.rentals.Transition(ctx, rental.ID, []model.RentalStatus{model.RentalPending}, model.RentalCancelled, now)
			if errors.Is(err, rentalserrors.ErrStatusChanged) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to cancel rental %s: %w", rental.ID, err)
			}
			if _, err := s.allocator.ClearReservation(ctx, rental.ID); err != nil {
				return fmt.Errorf("failed to clear reservation of rental %s: %w", rental.ID, err)
			}
			if _, err := s.payments.FailPendingForRental(ctx, rental.ID, model.PaymentInitial, now); err != nil {
				return fmt.Errorf("failed to fail payment of rental %s: %w", rental.ID, err)
			}
			cancelled = append(cancelled, rental)
		}

		orphans, err = s.allocator.ClearExpiredReservations(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to clear expired reservations: %w", err)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Affected = len(cancelled)
	if orphans > 0 {
		s.log.Info("Cleared orphaned device reservations", "count", orphans)
	}

	notes := make([]notify.Notification, 0, len(cancelled))
	for _, rental := range cancelled {
		notes = append(notes, notify.Notification{
			Kind:   notify.KindPaymentFailed,
			UserID: rental.UserID,
			Payload: map[string]any{
				"rental_id": rental.ID,
				"reason":    "reservation_expired",
			},
			SentAt: now,
		})
	}
	deliver(ctx, s.notifier, s.log, &res, notes)
	return res, nil
}
