package sweepers

import (
	"context"
	"errors"
	"fmt"
	extensionsrepository "rover/internal/extensions/repository"
	paymentsrepository "rover/internal/payments/repository"
	rentalserrors "rover/internal/rentals/errors"
	rentalsrepository "rover/internal/rentals/repository"
	"rover/pkg/clock"
	mongotx "rover/pkg/db/mongo"
	"rover/pkg/logger"
	"rover/pkg/notify"
	"time"
)

// ExtensionSweeper fails extensions left unpaid past the payment window.
type ExtensionSweeper struct {
	extensions extensionsrepository.ExtensionRepository
	payments   paymentsrepository.PaymentRepository
	rentals    rentalsrepository.RentalRepository
	tx         mongotx.TransactionManager
	notifier   notify.Notifier
	clock      clock.Clock
	window     time.Duration
	interval   time.Duration
	log        *logger.Logger
}

func NewExtensionSweeper(
	extensions extensionsrepository.ExtensionRepository,
	payments paymentsrepository.PaymentRepository,
	rentals rentalsrepository.RentalRepository,
	tx mongotx.TransactionManager,
	notifier notify.Notifier,
	clk clock.Clock,
	window time.Duration,
	interval time.Duration,
	log *logger.Logger,
) *ExtensionSweeper {
	return &ExtensionSweeper{
		extensions: extensions,
		payments:   payments,
		rentals:    rentals,
		tx:         tx,
		notifier:   notifier,
		clock:      clk,
		window:     window,
		interval:   interval,
		log:        log,
	}
}

func (s *ExtensionSweeper) Name() string            { return Extension }
func (s *ExtensionSweeper) Interval() time.Duration { return s.interval }

func (s *ExtensionSweeper) Tick(ctx context.Context) (Result, error) {
	res := Result{Sweeper: Extension}
	now := s.clock.Now()

	var notes []notify.Notification
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		notes = notes[:0]
		res.Affected = 0
		stale, err := s.extensions.FindStale(ctx, now.Add(-s.window))
		if err != nil {
			return fmt.Errorf("failed to list stale extensions: %w", err)
		}

		for _, extension := range stale {
			failed, err := s.extensions.MarkFailed(ctx, extension.ID, now)
			if err != nil {
				return fmt.Errorf("failed to fail extension %s: %w", extension.ID, err)
			}
			if !failed {
				continue
			}
			if _, err := s.payments.FailPendingForExtension(ctx, extension.ID, now); err != nil {
				return fmt.Errorf("failed to fail payment of extension %s: %w", extension.ID, err)
			}
			res.Affected++

			rental, err := s.rentals.FindByID(ctx, extension.RentalID)
			if errors.Is(err, rentalserrors.ErrNotFound) {
				s.log.Warn("Extension belongs to a deleted rental, not notifying",
					"extension_id", extension.ID,
					"rental_id", extension.RentalID,
				)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to load rental %s: %w", extension.RentalID, err)
			}
			notes = append(notes, notify.Notification{
				Kind:   notify.KindPaymentFailed,
				UserID: rental.UserID,
				Payload: map[string]any{
					"rental_id":    rental.ID,
					"extension_id": extension.ID,
					"reason":       "extension_payment_window_elapsed",
				},
				SentAt: now,
			})
		}
		return nil
	})
	if err != nil {
		res.Affected = 0
		return res, err
	}

	deliver(ctx, s.notifier, s.log, &res, notes)
	return res, nil
}
