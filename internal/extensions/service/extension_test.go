package service

import (
	"context"
	"testing"
	"time"

	"rover/internal/extensions/validator"
	"rover/internal/testutil/memstore"
	"rover/pkg/clock"
	"rover/pkg/config"
	apperrors "rover/pkg/errors"
	"rover/pkg/logger"
	"rover/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rate = 100000

var (
	admin = model.Actor{UserID: "admin-1", Role: model.RoleAdmin}
	alice = model.Actor{UserID: "alice", Role: model.RoleUser}
	bob   = model.Actor{UserID: "bob", Role: model.RoleUser}
)

type fixture struct {
	store   *memstore.Store
	clock   *clock.FakeClock
	service ExtensionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	store := memstore.New()
	clk := clock.Fake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))

	svc := NewExtensionService(
		store.Extensions(),
		store.Rentals(),
		store.Payments(),
		store,
		validator.NewExtensionValidator(log),
		clk,
		&config.Config{Log: log, MonthlyRate: rate},
	)
	return &fixture{store: store, clock: clk, service: svc}
}

func (f *fixture) rental(t *testing.T, owner model.Actor, status model.RentalStatus, end time.Time) *model.Rental {
	t.Helper()
	rental := &model.Rental{
		UserID:         owner.UserID,
		Status:         status,
		IntervalMonths: 6,
		StartDate:      end.AddDate(0, -6, 0),
		EndDate:        end,
		CreatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.store.Rentals().Create(context.Background(), rental))
	return rental
}

func TestAddExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := f.clock.Now().AddDate(0, 1, 0)
	rental := f.rental(t, alice, model.RentalActive, end)

	created, err := f.service.AddExtension(ctx, alice, rental.ID, &model.ExtensionRequest{IntervalMonths: 12})
	require.NoError(t, err)
	assert.Equal(t, end.AddDate(0, 12, 0), created.NewEndDate)
	assert.Equal(t, int64(12*rate), created.Amount)

	payment, err := f.store.Payments().FindByID(ctx, created.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentExtension, payment.Type)
	assert.Equal(t, created.ExtensionID, payment.ExtensionID)
	assert.Equal(t, model.PaymentPending, payment.Status)

	_, err = f.service.AddExtension(ctx, alice, rental.ID, &model.ExtensionRequest{IntervalMonths: 6})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "one pending extension at a time")

	unchanged, err := f.store.Rentals().FindByID(ctx, rental.ID)
	require.NoError(t, err)
	assert.Equal(t, end, unchanged.EndDate, "end date moves only after payment")
}

func TestAddExtension_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := f.clock.Now().AddDate(0, 1, 0)
	active := f.rental(t, alice, model.RentalActive, end)
	pending := f.rental(t, alice, model.RentalPending, end)

	tests := []struct {
		name     string
		actor    model.Actor
		rentalID string
		interval int
		code     string
	}{
		{"other user", bob, active.ID, 6, apperrors.CodeNotFound},
		{"not active", alice, pending.ID, 6, apperrors.CodeConflict},
		{"bad interval", alice, active.ID, 3, apperrors.CodeValidation},
		{"malformed rental id", alice, "nope", 6, apperrors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.AddExtension(ctx, tt.actor, tt.rentalID, &model.ExtensionRequest{IntervalMonths: tt.interval})
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestCompleteFromPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := f.clock.Now().AddDate(0, 1, 0)
	rental := f.rental(t, alice, model.RentalActive, end)

	created, err := f.service.AddExtension(ctx, alice, rental.ID, &model.ExtensionRequest{IntervalMonths: 6})
	require.NoError(t, err)

	require.NoError(t, f.service.CompleteFromPayment(ctx, created.ExtensionID))
	require.NoError(t, f.service.CompleteFromPayment(ctx, created.ExtensionID), "duplicate completion is a no-op")

	extended, err := f.store.Rentals().FindByID(ctx, rental.ID)
	require.NoError(t, err)
	assert.Equal(t, end.AddDate(0, 6, 0), extended.EndDate)

	extension, err := f.service.GetByID(ctx, alice, created.ExtensionID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionCompleted, extension.Status)

	_, err = f.service.AddExtension(ctx, alice, rental.ID, &model.ExtensionRequest{IntervalMonths: 6})
	assert.NoError(t, err, "a completed extension does not block the next one")
}

func TestCompleteFromPayment_FailedExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rental := f.rental(t, alice, model.RentalActive, f.clock.Now().AddDate(0, 1, 0))

	created, err := f.service.AddExtension(ctx, alice, rental.ID, &model.ExtensionRequest{IntervalMonths: 6})
	require.NoError(t, err)
	ok, err := f.store.Extensions().MarkFailed(ctx, created.ExtensionID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	err = f.service.CompleteFromPayment(ctx, created.ExtensionID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestCompleteFromPayment_ResumesLapsedTerm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := f.clock.Now().Add(time.Hour)
	rental := f.rental(t, alice, model.RentalActive, end)

	created, err := f.service.AddExtension(ctx, alice, rental.ID, &model.ExtensionRequest{IntervalMonths: 6})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.store.Rentals().Transition(ctx, rental.ID,
		[]model.RentalStatus{model.RentalActive}, model.RentalAwaitingReturn, f.clock.Now()))

	require.NoError(t, f.service.CompleteFromPayment(ctx, created.ExtensionID))

	resumed, err := f.store.Rentals().FindByID(ctx, rental.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RentalActive, resumed.Status)
	assert.Equal(t, end.AddDate(0, 6, 0), resumed.EndDate)
}

func TestListAndGet_Scope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rental := f.rental(t, alice, model.RentalActive, f.clock.Now().AddDate(0, 1, 0))

	created, err := f.service.AddExtension(ctx, admin, rental.ID, &model.ExtensionRequest{IntervalMonths: 24})
	require.NoError(t, err)

	list, err := f.service.ListByRental(ctx, alice, rental.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ExtensionID, list[0].ID)

	_, err = f.service.ListByRental(ctx, bob, rental.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.service.GetByID(ctx, bob, created.ExtensionID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}
