package memstore

import (
	"context"
	"fmt"
	extensionserrors "rover/internal/extensions/errors"
	"rover/internal/extensions/repository"
	"rover/pkg/model"
	"time"
)

type extensionRow = model.Extension

type extensions struct{ *Store }

// Extensions returns the store as an ExtensionRepository.
func (s *Store) Extensions() repository.ExtensionRepository {
	return extensions{s}
}

func copyExtension(row *extensionRow) *model.Extension {
	cp := *row
	return &cp
}

func (r extensions) Create(ctx context.Context, extension *model.Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("extensions.Create"); err != nil {
		return err
	}
	extension.ID = newID()
	if extension.CreatedAt.IsZero() {
		extension.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	extension.UpdatedAt = extension.CreatedAt
	r.data.extensions.insert(extension.ID, copyExtension(extension))
	return nil
}

func (r extensions) FindByID(ctx context.Context, id string) (*model.Extension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("extensions.FindByID"); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", extensionserrors.ErrInvalidID, id)
	}
	row, ok := r.data.extensions.rows[id]
	if !ok {
		return nil, extensionserrors.ErrNotFound
	}
	return copyExtension(row), nil
}

func (r extensions) find(op string, match func(*extensionRow) bool) ([]*model.Extension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("extensions." + op); err != nil {
		return nil, err
	}
	out := []*model.Extension{}
	for _, row := range r.data.extensions.all() {
		if match(row) {
			out = append(out, copyExtension(row))
		}
	}
	return out, nil
}

func (r extensions) FindByRental(ctx context.Context, rentalID string) ([]*model.Extension, error) {
	return r.find("FindByRental", func(row *extensionRow) bool {
		return row.RentalID == rentalID
	})
}

func (r extensions) HasPending(ctx context.Context, rentalID string) (bool, error) {
	pending, err := r.find("HasPending", func(row *extensionRow) bool {
		return row.RentalID == rentalID && row.Status == model.ExtensionPendingPayment
	})
	return len(pending) > 0, err
}

func (r extensions) settle(op, id string, apply func(*extensionRow)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("extensions." + op); err != nil {
		return false, err
	}
	if !validID(id) {
		return false, fmt.Errorf("%w: %s", extensionserrors.ErrInvalidID, id)
	}
	row, ok := r.data.extensions.rows[id]
	if !ok || row.Status != model.ExtensionPendingPayment {
		return false, nil
	}
	apply(row)
	return true, nil
}

func (r extensions) MarkCompleted(ctx context.Context, id string, newEndDate, now time.Time) (bool, error) {
	return r.settle("MarkCompleted", id, func(row *extensionRow) {
		row.Status = model.ExtensionCompleted
		row.NewEndDate = newEndDate
		row.UpdatedAt = now
	})
}

func (r extensions) MarkFailed(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.settle("MarkFailed", id, func(row *extensionRow) {
		row.Status = model.ExtensionFailed
		row.UpdatedAt = now
	})
}

func (r extensions) FindStale(ctx context.Context, cutoff time.Time) ([]*model.Extension, error) {
	return r.find("FindStale", func(row *extensionRow) bool {
		return row.Status == model.ExtensionPendingPayment && row.CreatedAt.Before(cutoff)
	})
}
