package service

import (
	"context"
	"errors"
	"fmt"
	returnserrors "rover/internal/returns/errors"
	"rover/internal/returns/repository"
	"rover/internal/returns/validator"
	"rover/pkg/clock"
	"rover/pkg/config"
	mongotx "rover/pkg/db/mongo"
	apperrors "rover/pkg/errors"
	"rover/pkg/model"
	"rover/pkg/validation"

	"golang.org/x/sync/errgroup"
)

// progress orders return statuses; a record only moves forward.
var progress = map[model.ReturnStatus]int{
	model.ReturnRequested: 0,
	model.ReturnShipped:   1,
	model.ReturnReceived:  2,
}

type ReturnService interface {
	GetByRental(ctx context.Context, actor model.Actor, rentalID string) (*model.ReturnRecord, error)
	GetAll(ctx context.Context, actor model.Actor, status model.ReturnStatus, limit int, offset int64) ([]*model.ReturnRecord, int64, error)
	SetStatus(ctx context.Context, actor model.Actor, rentalID string, change *model.ReturnStatusChange) error
}

type returnService struct {
	repo      repository.ReturnRepository
	tx        mongotx.TransactionManager
	validator *validator.ReturnValidator
	clock     clock.Clock
	cfg       *config.Config
}

func NewReturnService(
	repo repository.ReturnRepository,
	tx mongotx.TransactionManager,
	validator *validator.ReturnValidator,
	clk clock.Clock,
	cfg *config.Config,
) ReturnService {
	return &returnService{
		repo:      repo,
		tx:        tx,
		validator: validator,
		clock:     clk,
		cfg:       cfg,
	}
}

func (s *returnService) GetByRental(ctx context.Context, actor model.Actor, rentalID string) (*model.ReturnRecord, error) {
	if rentalID == "" {
		return nil, apperrors.InvalidInput("Rental ID cannot be empty")
	}

	record, err := s.repo.FindByRental(ctx, rentalID)
	if err != nil {
		if errors.Is(err, returnserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Return", rentalID)
		}
		s.cfg.Log.Error("Failed to get return record", "rental_id", rentalID, "error", err)
		return nil, apperrors.Internal("Failed to retrieve return record", err)
	}
	if !actor.IsAdmin() && record.UserID != actor.UserID {
		return nil, apperrors.NotFoundWithID("Return", rentalID)
	}
	return record, nil
}

func (s *returnService) GetAll(ctx context.Context, actor model.Actor, status model.ReturnStatus, limit int, offset int64) ([]*model.ReturnRecord, int64, error) {
	if !actor.IsAdmin() {
		return nil, 0, apperrors.Forbidden("Listing returns is restricted to admins")
	}
	if _, known := progress[status]; status != "" && !known {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("Unknown return status: %s", status))
	}
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	var (
		records []*model.ReturnRecord
		count   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		count, err = s.repo.Count(gctx, status)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = s.repo.FindAll(gctx, status, limit, offset)
		return err
	})
	if err := g.Wait(); err != nil {
		s.cfg.Log.Error("Failed to list return records",
			"status", status,
			"limit", limit,
			"offset", offset,
			"error", err,
		)
		return nil, 0, apperrors.Internal("Failed to retrieve return records", err)
	}
	return records, count, nil
}

func (s *returnService) SetStatus(ctx context.Context, actor model.Actor, rentalID string, change *model.ReturnStatusChange) error {
	if !actor.IsAdmin() {
		return apperrors.Forbidden("Return status changes are restricted to admins")
	}
	if err := s.validator.ValidateStatusChange(change); err != nil {
		return validation.ToAppError(err)
	}

	now := s.clock.Now()
	var from model.ReturnStatus
	err := s.tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		record, err := s.repo.FindByRental(ctx, rentalID)
		if err != nil {
			return err
		}
		from = record.Status
		if progress[change.Status] <= progress[record.Status] {
			return apperrors.Conflict(fmt.Sprintf("Return cannot move from %s to %s", record.Status, change.Status))
		}
		return s.repo.SetStatus(ctx, rentalID, change.Status, now)
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return err
		}
		if errors.Is(err, returnserrors.ErrNotFound) {
			return apperrors.NotFoundWithID("Return", rentalID)
		}
		s.cfg.Log.Error("Failed to update return record", "rental_id", rentalID, "error", err)
		return apperrors.Internal("Failed to update return record", err)
	}

	s.cfg.Log.Info("Return status changed",
		"rental_id", rentalID,
		"from", from,
		"to", change.Status,
		"admin_id", actor.UserID,
	)
	return nil
}
