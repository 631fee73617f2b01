package memstore

import (
	"context"
	returnserrors "rover/internal/returns/errors"
	"rover/internal/returns/repository"
	"rover/pkg/model"
	"time"
)

type returnRow = model.ReturnRecord

type returns struct{ *Store }

// Returns returns the store as a ReturnRepository.
func (s *Store) Returns() repository.ReturnRepository {
	return returns{s}
}

func copyReturn(row *returnRow) *model.ReturnRecord {
	cp := *row
	return &cp
}

// Open keys records by rental id, so a rental never gets two.
func (r returns) Open(ctx context.Context, record *model.ReturnRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("returns.Open"); err != nil {
		return false, err
	}
	if _, exists := r.data.returns.rows[record.RentalID]; exists {
		return false, nil
	}
	record.ID = newID()
	record.Status = model.ReturnRequested
	record.UpdatedAt = record.CreatedAt
	r.data.returns.insert(record.RentalID, copyReturn(record))
	return true, nil
}

func (r returns) FindByRental(ctx context.Context, rentalID string) (*model.ReturnRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("returns.FindByRental"); err != nil {
		return nil, err
	}
	row, ok := r.data.returns.rows[rentalID]
	if !ok {
		return nil, returnserrors.ErrNotFound
	}
	return copyReturn(row), nil
}

func (r returns) matching(status model.ReturnStatus) []*model.ReturnRecord {
	out := []*model.ReturnRecord{}
	for _, row := range r.data.returns.all() {
		if status == "" || row.Status == status {
			out = append(out, copyReturn(row))
		}
	}
	return out
}

func (r returns) FindAll(ctx context.Context, status model.ReturnStatus, limit int, offset int64) ([]*model.ReturnRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("returns.FindAll"); err != nil {
		return nil, err
	}
	return paginate(r.matching(status), limit, offset), nil
}

func (r returns) Count(ctx context.Context, status model.ReturnStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("returns.Count"); err != nil {
		return 0, err
	}
	return int64(len(r.matching(status))), nil
}

func (r returns) SetStatus(ctx context.Context, rentalID string, status model.ReturnStatus, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("returns.SetStatus"); err != nil {
		return err
	}
	row, ok := r.data.returns.rows[rentalID]
	if !ok {
		return returnserrors.ErrNotFound
	}
	row.Status = status
	row.UpdatedAt = now
	return nil
}
