package memstore

import (
	"context"
	"fmt"
	paymentserrors "rover/internal/payments/errors"
	"rover/internal/payments/repository"
	"rover/pkg/model"
	"time"
)

type paymentRow = model.Payment

type payments struct{ *Store }

// Payments returns the store as a PaymentRepository.
func (s *Store) Payments() repository.PaymentRepository {
	return payments{s}
}

func copyPayment(row *paymentRow) *model.Payment {
	cp := *row
	return &cp
}

func (r payments) Create(ctx context.Context, payment *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("payments.Create"); err != nil {
		return err
	}
	payment.ID = newID()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	payment.UpdatedAt = payment.CreatedAt
	r.data.payments.insert(payment.ID, copyPayment(payment))
	return nil
}

func (r payments) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("payments.FindByID"); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", paymentserrors.ErrInvalidID, id)
	}
	row, ok := r.data.payments.rows[id]
	if !ok {
		return nil, paymentserrors.ErrNotFound
	}
	return copyPayment(row), nil
}

func (r payments) FindLatest(ctx context.Context, rentalID string, paymentType model.PaymentType) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("payments.FindLatest"); err != nil {
		return nil, err
	}
	var latest *paymentRow
	for _, row := range r.data.payments.all() {
		if row.RentalID != rentalID || row.Type != paymentType {
			continue
		}
		if latest == nil || !row.CreatedAt.Before(latest.CreatedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, paymentserrors.ErrNotFound
	}
	return copyPayment(latest), nil
}

func (r payments) FindByRental(ctx context.Context, rentalID string) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("payments.FindByRental"); err != nil {
		return nil, err
	}
	out := []*model.Payment{}
	for _, row := range r.data.payments.all() {
		if row.RentalID == rentalID {
			out = append(out, copyPayment(row))
		}
	}
	return out, nil
}

func (r payments) settle(op, id string, now time.Time, status model.PaymentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("payments." + op); err != nil {
		return false, err
	}
	if !validID(id) {
		return false, fmt.Errorf("%w: %s", paymentserrors.ErrInvalidID, id)
	}
	row, ok := r.data.payments.rows[id]
	if !ok || row.Status != model.PaymentPending {
		return false, nil
	}
	row.Status = status
	row.UpdatedAt = now
	if status == model.PaymentCompleted {
		row.PaidAt = timePtr(now)
	}
	return true, nil
}

func (r payments) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.settle("MarkCompleted", id, now, model.PaymentCompleted)
}

func (r payments) MarkFailed(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.settle("MarkFailed", id, now, model.PaymentFailed)
}

func (r payments) failMany(op string, now time.Time, match func(*paymentRow) bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("payments." + op); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range r.data.payments.rows {
		if row.Status == model.PaymentPending && match(row) {
			row.Status = model.PaymentFailed
			row.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r payments) FailPendingForRental(ctx context.Context, rentalID string, paymentType model.PaymentType, now time.Time) (int64, error) {
	return r.failMany("FailPendingForRental", now, func(row *paymentRow) bool {
		return row.RentalID == rentalID && row.Type == paymentType
	})
}

func (r payments) FailPendingForExtension(ctx context.Context, extensionID string, now time.Time) (int64, error) {
	return r.failMany("FailPendingForExtension", now, func(row *paymentRow) bool {
		return row.ExtensionID == extensionID
	})
}
