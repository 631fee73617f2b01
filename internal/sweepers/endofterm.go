package sweepers

import (
	"context"
	"errors"
	"fmt"
	rentalserrors "rover/internal/rentals/errors"
	rentalsrepository "rover/internal/rentals/repository"
	returnsrepository "rover/internal/returns/repository"
	"rover/pkg/clock"
	mongotx "rover/pkg/db/mongo"
	"rover/pkg/logger"
	"rover/pkg/model"
	"rover/pkg/notify"
	"time"
)

// EndOfTermSweeper moves rentals past their end date to awaiting-return
// and opens their return records. It also warns users whose rental ends
// within the almost-end window.
type EndOfTermSweeper struct {
	rentals   rentalsrepository.RentalRepository
	returns   returnsrepository.ReturnRepository
	tx        mongotx.TransactionManager
	notifier  notify.Notifier
	clock     clock.Clock
	almostEnd time.Duration
	interval  time.Duration
	log       *logger.Logger
}

func NewEndOfTermSweeper(
	rentals rentalsrepository.RentalRepository,
	returns returnsrepository.ReturnRepository,
	tx mongotx.TransactionManager,
	notifier notify.Notifier,
	clk clock.Clock,
	almostEnd time.Duration,
	interval time.Duration,
	log *logger.Logger,
) *EndOfTermSweeper {
	return &EndOfTermSweeper{
		rentals:   rentals,
		returns:   returns,
		tx:        tx,
		notifier:  notifier,
		clock:     clk,
		almostEnd: almostEnd,
		interval:  interval,
		log:       log,
	}
}

func (s *EndOfTermSweeper) Name() string            { return EndOfTerm }
func (s *EndOfTermSweeper) Interval() time.Duration { return s.interval }

func (s *EndOfTermSweeper) Tick(ctx context.Context) (Result, error) {
	res := Result{Sweeper: EndOfTerm}
	now := s.clock.Now()

	var ended []*model.Rental
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		ended = ended[:0]
		due, err := s.rentals.FindEnded(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to list ended rentals: %w", err)
		}

		for _, rental := range due {
			err := s.rentals.Transition(ctx, rental.ID, []model.RentalStatus{model.RentalActive}, model.RentalAwaitingReturn, now)
			if errors.Is(err, rentalserrors.ErrStatusChanged) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to end rental %s: %w", rental.ID, err)
			}
			if _, err := s.returns.Open(ctx, &model.ReturnRecord{
				RentalID:  rental.ID,
				UserID:    rental.UserID,
				CreatedAt: now,
			}); err != nil {
				return fmt.Errorf("failed to open return for rental %s: %w", rental.ID, err)
			}
			ended = append(ended, rental)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Affected = len(ended)

	notes := make([]notify.Notification, 0, len(ended))
	for _, rental := range ended {
		notes = append(notes, notify.Notification{
			Kind:   notify.KindAwaitingReturn,
			UserID: rental.UserID,
			Payload: map[string]any{
				"rental_id": rental.ID,
				"end_date":  rental.EndDate,
			},
			SentAt: now,
		})
	}

	ending, err := s.rentals.FindEndingBetween(ctx, now, now.Add(s.almostEnd))
	if err != nil {
		// The transition already committed; the warning waits for the next tick.
		s.log.Error("Failed to list rentals ending soon", "error", err)
		res.Failures++
	}
	for _, rental := range ending {
		notes = append(notes, notify.Notification{
			Kind:   notify.KindAlmostEnd,
			UserID: rental.UserID,
			Payload: map[string]any{
				"rental_id": rental.ID,
				"end_date":  rental.EndDate,
			},
			SentAt: now,
		})
	}

	deliver(ctx, s.notifier, s.log, &res, notes)
	return res, nil
}
