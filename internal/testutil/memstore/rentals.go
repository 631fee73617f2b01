package memstore

import (
	"cmp"
	"context"
	"fmt"
	rentalserrors "rover/internal/rentals/errors"
	"rover/internal/rentals/repository"
	"rover/pkg/model"
	"slices"
	"time"
)

type rentalRow = model.Rental

type rentals struct{ *Store }

// Rentals returns the store as a RentalRepository.
func (s *Store) Rentals() repository.RentalRepository {
	return rentals{s}
}

func copyRental(row *rentalRow) *model.Rental {
	cp := *row
	cp.DeviceID = ""
	return &cp
}

func (r rentals) get(op, id string) (*rentalRow, error) {
	if err := r.failure("rentals." + op); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", rentalserrors.ErrInvalidID, id)
	}
	row, ok := r.data.rentals.rows[id]
	if !ok || row.DeletedAt != nil {
		return nil, rentalserrors.ErrNotFound
	}
	return row, nil
}

func (r rentals) Create(ctx context.Context, rental *model.Rental) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("rentals.Create"); err != nil {
		return err
	}
	if rental.ID == "" {
		rental.ID = newID()
	} else if !validID(rental.ID) {
		return fmt.Errorf("%w: %s", rentalserrors.ErrInvalidID, rental.ID)
	}
	if _, exists := r.data.rentals.rows[rental.ID]; exists {
		return fmt.Errorf("duplicate rental id %s", rental.ID)
	}
	if rental.CreatedAt.IsZero() {
		rental.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	rental.UpdatedAt = rental.CreatedAt
	r.data.rentals.insert(rental.ID, copyRental(rental))
	return nil
}

func (r rentals) FindByID(ctx context.Context, id string) (*model.Rental, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, err := r.get("FindByID", id)
	if err != nil {
		return nil, err
	}
	return copyRental(row), nil
}

func (r rentals) list(match func(*rentalRow) bool) []*model.Rental {
	out := []*model.Rental{}
	for _, row := range r.data.rentals.all() {
		if row.DeletedAt == nil && match(row) {
			out = append(out, copyRental(row))
		}
	}
	return out
}

func forUser(userID string) func(*rentalRow) bool {
	return func(row *rentalRow) bool {
		return userID == "" || row.UserID == userID
	}
}

func (r rentals) FindAll(ctx context.Context, userID string, limit int, offset int64) ([]*model.Rental, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("rentals.FindAll"); err != nil {
		return nil, err
	}
	out := r.list(forUser(userID))
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b *model.Rental) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return paginate(out, limit, offset), nil
}

func (r rentals) Count(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("rentals.Count"); err != nil {
		return 0, err
	}
	return int64(len(r.list(forUser(userID)))), nil
}

// update mirrors the conditional update of the Mongo repository.
func (r rentals) update(op, id string, guard func(*rentalRow) bool, apply func(*rentalRow)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, err := r.get(op, id)
	if err != nil {
		return err
	}
	if !guard(row) {
		return rentalserrors.ErrStatusChanged
	}
	apply(row)
	return nil
}

func (r rentals) Transition(ctx context.Context, id string, from []model.RentalStatus, to model.RentalStatus, now time.Time) error {
	return r.update("Transition", id,
		func(row *rentalRow) bool { return slices.Contains(from, row.Status) },
		func(row *rentalRow) {
			row.Status = to
			row.UpdatedAt = now
			if to != model.RentalPending {
				row.ReservedUntil = nil
			}
		})
}

func (r rentals) Activate(ctx context.Context, id string, start, end, now time.Time) error {
	return r.update("Activate", id,
		func(row *rentalRow) bool { return row.Status == model.RentalPending },
		func(row *rentalRow) {
			row.Status = model.RentalActive
			row.StartDate = start
			row.EndDate = end
			row.ReservedUntil = nil
			row.UpdatedAt = now
		})
}

func (r rentals) SetEndDate(ctx context.Context, id string, end, now time.Time) error {
	return r.update("SetEndDate", id,
		func(row *rentalRow) bool {
			return row.Status == model.RentalActive || row.Status == model.RentalAwaitingReturn
		},
		func(row *rentalRow) {
			row.EndDate = end
			row.UpdatedAt = now
		})
}

func (r rentals) SoftDelete(ctx context.Context, id string, now time.Time) error {
	return r.update("SoftDelete", id,
		func(row *rentalRow) bool { return row.Status != model.RentalActive },
		func(row *rentalRow) {
			row.DeletedAt = timePtr(now)
			row.UpdatedAt = now
		})
}

func (r rentals) find(op string, match func(*rentalRow) bool) ([]*model.Rental, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("rentals." + op); err != nil {
		return nil, err
	}
	return r.list(match), nil
}

func (r rentals) FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Rental, error) {
	return r.find("FindExpiredPending", func(row *rentalRow) bool {
		return row.Status == model.RentalPending && row.ReservedUntil != nil && row.ReservedUntil.Before(now)
	})
}

func (r rentals) FindEnded(ctx context.Context, now time.Time) ([]*model.Rental, error) {
	return r.find("FindEnded", func(row *rentalRow) bool {
		return row.Status == model.RentalActive && row.EndDate.Before(now)
	})
}

func (r rentals) FindEndingBetween(ctx context.Context, from, to time.Time) ([]*model.Rental, error) {
	return r.find("FindEndingBetween", func(row *rentalRow) bool {
		return row.Status == model.RentalActive && row.EndDate.After(from) && !row.EndDate.After(to)
	})
}
