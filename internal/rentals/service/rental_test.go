package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rover/internal/devices/allocator"
	"rover/internal/rentals/validator"
	"rover/internal/testutil/memstore"
	"rover/internal/testutil/recorder"
	usage "rover/internal/usage/service"
	"rover/pkg/clock"
	"rover/pkg/config"
	"rover/pkg/devicecmd"
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
	store    *memstore.Store
	clock    *clock.FakeClock
	tracker  *usage.Tracker
	commands *recorder.Sender
	service  RentalService
}

func newFixture(t *testing.T, devices int) *fixture {
	t.Helper()
	log := logger.Discard()
	store := memstore.New()
	clk := clock.Fake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	alloc := allocator.New(store.Devices(), clk, 15*time.Minute, log)

	for range devices {
		require.NoError(t, store.Devices().Create(context.Background(), &model.Device{Status: model.DeviceInactive, Assignment: model.Free()}))
	}

	limits := usage.Limits{Daily: 8 * time.Hour, FirstSession: 4 * time.Hour, Cooldown: time.Hour}
	tracker := usage.NewTracker(store.Sessions(), store.Devices(), store, limits, time.UTC, log)
	commands := &recorder.Sender{}

	svc := NewRentalService(
		store.Rentals(),
		store.Payments(),
		store.Devices(),
		alloc,
		tracker,
		commands,
		store,
		validator.NewRentalValidator(log),
		clk,
		&config.Config{Log: log, MonthlyRate: rate},
	)
	return &fixture{store: store, clock: clk, tracker: tracker, commands: commands, service: svc}
}

func (f *fixture) rent(t *testing.T, actor model.Actor) *model.RentalCreated {
	t.Helper()
	created, err := f.service.AddRental(context.Background(), actor, &model.RentalRequest{IntervalMonths: 6})
	require.NoError(t, err)
	return created
}

func TestAddRental_ReservesDeviceAndOpensPayment(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	created := f.rent(t, alice)
	assert.Equal(t, int64(6*rate), created.Cost)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), created.ReservedUntil)

	rental, err := f.store.Rentals().FindByID(ctx, created.RentalID)
	require.NoError(t, err)
	assert.Equal(t, model.RentalPending, rental.Status)
	assert.Equal(t, alice.UserID, rental.UserID)

	device, err := f.store.Devices().FindByID(ctx, created.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReserved, device.Assignment.State())
	assert.Equal(t, created.RentalID, device.Assignment.RentalID())

	payment, err := f.store.Payments().FindByID(ctx, created.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, payment.Status)
	assert.Equal(t, model.PaymentInitial, payment.Type)
	assert.Equal(t, int64(6*rate), payment.Amount)
}

func TestAddRental_NoDeviceAvailable(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.rent(t, alice)

	_, err := f.service.AddRental(ctx, bob, &model.RentalRequest{IntervalMonths: 12})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	count, err := f.store.Rentals().Count(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAddRental_InvalidInterval(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.service.AddRental(context.Background(), alice, &model.RentalRequest{IntervalMonths: 7})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestAddRental_PaymentFailureRollsBackReservation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.store.FailOn("payments.Create", errors.New("write concern timeout"))

	_, err := f.service.AddRental(ctx, alice, &model.RentalRequest{IntervalMonths: 6})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))

	claimable, err := f.store.Devices().FindClaimable(ctx, f.clock.Now(), nil, 10)
	require.NoError(t, err)
	assert.Len(t, claimable, 1)

	count, err := f.store.Rentals().Count(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAddRental_ConcurrentClaimsNeverShareDevices(t *testing.T) {
	const devices, users = 4, 10
	f := newFixture(t, devices)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		refused   atomic.Int32
		mu        sync.Mutex
		seen      = map[string]bool{}
	)
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := model.Actor{UserID: string(rune('a' + i)), Role: model.RoleUser}
			created, err := f.service.AddRental(context.Background(), actor, &model.RentalRequest{IntervalMonths: 6})
			if err != nil {
				if apperrors.HasCode(err, apperrors.CodeConflict) {
					refused.Add(1)
				}
				return
			}
			succeeded.Add(1)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[created.DeviceID], "device %s claimed twice", created.DeviceID)
			seen[created.DeviceID] = true
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(devices), succeeded.Load())
	assert.Equal(t, int32(users-devices), refused.Load())
}

func TestGetByID_Scope(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t, alice)

	rental, err := f.service.GetByID(ctx, alice, created.RentalID)
	require.NoError(t, err)
	assert.Equal(t, created.DeviceID, rental.DeviceID)

	_, err = f.service.GetByID(ctx, bob, created.RentalID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.service.GetByID(ctx, admin, created.RentalID)
	assert.NoError(t, err)

	_, err = f.service.GetByID(ctx, admin, "not-an-id")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))
}

func TestGetAll_Scope(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.rent(t, alice)
	f.rent(t, alice)
	f.rent(t, bob)

	rentals, total, err := f.service.GetAll(ctx, alice, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, r := range rentals {
		assert.Equal(t, alice.UserID, r.UserID)
	}

	_, total, err = f.service.GetAll(ctx, admin, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t, alice)

	assert.True(t, apperrors.HasCode(f.service.Cancel(ctx, admin, created.RentalID), apperrors.CodeForbidden))
	assert.True(t, apperrors.HasCode(f.service.Cancel(ctx, bob, created.RentalID), apperrors.CodeNotFound))

	require.NoError(t, f.service.Cancel(ctx, alice, created.RentalID))

	rental, err := f.store.Rentals().FindByID(ctx, created.RentalID)
	require.NoError(t, err)
	assert.Equal(t, model.RentalCancelled, rental.Status)

	device, err := f.store.Devices().FindByID(ctx, created.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFree, device.Assignment.State())

	payment, err := f.store.Payments().FindByID(ctx, created.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, payment.Status)

	assert.True(t, apperrors.HasCode(f.service.Cancel(ctx, alice, created.RentalID), apperrors.CodeConflict))
}

func TestActivateFromPayment(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t, alice)
	f.clock.Advance(5 * time.Minute)
	now := f.clock.Now()

	require.NoError(t, f.service.ActivateFromPayment(ctx, created.RentalID))
	require.NoError(t, f.service.ActivateFromPayment(ctx, created.RentalID), "activation is idempotent")

	rental, err := f.store.Rentals().FindByID(ctx, created.RentalID)
	require.NoError(t, err)
	assert.Equal(t, model.RentalActive, rental.Status)
	assert.Equal(t, now, rental.StartDate)
	assert.Equal(t, now.AddDate(0, 6, 0), rental.EndDate)
	assert.Nil(t, rental.ReservedUntil)

	device, err := f.store.Devices().FindByID(ctx, created.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, device.Assignment.State())
	assert.Equal(t, created.RentalID, device.Assignment.RentalID())
}

func TestActivateFromPayment_LostReservationFallsBackToFreeDevice(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	first := f.rent(t, alice)

	// The hold lapses and the device goes to someone else.
	f.clock.Advance(20 * time.Minute)
	second := f.rent(t, bob)
	require.Equal(t, first.DeviceID, second.DeviceID)

	require.NoError(t, f.service.ActivateFromPayment(ctx, first.RentalID))

	rental, err := f.service.GetByID(ctx, alice, first.RentalID)
	require.NoError(t, err)
	assert.NotEmpty(t, rental.DeviceID)
	assert.NotEqual(t, first.DeviceID, rental.DeviceID)
}

func TestActivateFromPayment_CancelledRental(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t, alice)
	require.NoError(t, f.service.Cancel(ctx, alice, created.RentalID))

	err := f.service.ActivateFromPayment(ctx, created.RentalID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestChangeStatus(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t, alice)
	require.NoError(t, f.service.ActivateFromPayment(ctx, created.RentalID))

	err := f.service.ChangeStatus(ctx, alice, created.RentalID, &model.RentalStatusChange{Status: model.RentalCompleted})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	err = f.service.ChangeStatus(ctx, admin, created.RentalID, &model.RentalStatusChange{Status: model.RentalActive})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	err = f.service.ChangeStatus(ctx, admin, created.RentalID, &model.RentalStatusChange{Status: "paused"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	require.NoError(t, f.service.ChangeStatus(ctx, admin, created.RentalID, &model.RentalStatusChange{Status: model.RentalCompleted}))

	device, err := f.store.Devices().FindByID(ctx, created.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFree, device.Assignment.State())
}

func TestDelete(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	active := f.rent(t, alice)
	require.NoError(t, f.service.ActivateFromPayment(ctx, active.RentalID))
	pending := f.rent(t, bob)

	assert.True(t, apperrors.HasCode(f.service.Delete(ctx, admin, active.RentalID), apperrors.CodeConflict))
	assert.True(t, apperrors.HasCode(f.service.Delete(ctx, bob, pending.RentalID), apperrors.CodeForbidden))

	require.NoError(t, f.service.Delete(ctx, admin, pending.RentalID))
	_, err := f.service.GetByID(ctx, admin, pending.RentalID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	device, err := f.store.Devices().FindByID(ctx, pending.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFree, device.Assignment.State())
}

func TestChangeStatus_CompletionPowersOffRunningDevice(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t, alice)
	require.NoError(t, f.service.ActivateFromPayment(ctx, created.RentalID))

	require.NoError(t, f.tracker.CheckAndLogSessionStart(ctx, created.DeviceID, f.clock.Now()))
	require.NoError(t, f.store.Devices().MarkPoweredOn(ctx, created.DeviceID))
	f.clock.Advance(90 * time.Minute)

	require.NoError(t, f.service.ChangeStatus(ctx, admin, created.RentalID, &model.RentalStatusChange{Status: model.RentalCompleted}))

	device, err := f.store.Devices().FindByID(ctx, created.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFree, device.Assignment.State())
	assert.Equal(t, model.DeviceInactive, device.Status)
	assert.EqualValues(t, 90*60, device.LastActiveSeconds)

	sum, err := f.tracker.TodayUsage(ctx, created.DeviceID, f.clock.Now())
	require.NoError(t, err)
	assert.Nil(t, sum.Open, "usage session left open")

	sent := f.commands.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, created.DeviceID, sent[0].DeviceID)
	assert.Equal(t, model.ActionOff, sent[0].Action)
}

func TestChangeStatus_CompletionOfIdleDeviceSendsNoCommand(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t, alice)
	require.NoError(t, f.service.ActivateFromPayment(ctx, created.RentalID))

	require.NoError(t, f.service.ChangeStatus(ctx, admin, created.RentalID, &model.RentalStatusChange{Status: model.RentalCompleted}))
	assert.Empty(t, f.commands.Sent())
}

func TestChangeStatus_CommandFailureKeepsCompletion(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t, alice)
	require.NoError(t, f.service.ActivateFromPayment(ctx, created.RentalID))
	require.NoError(t, f.store.Devices().MarkPoweredOn(ctx, created.DeviceID))
	f.commands.Fail = func(devicecmd.Command) error { return errors.New("broker down") }

	require.NoError(t, f.service.ChangeStatus(ctx, admin, created.RentalID, &model.RentalStatusChange{Status: model.RentalCompleted}))

	rental, err := f.store.Rentals().FindByID(ctx, created.RentalID)
	require.NoError(t, err)
	assert.Equal(t, model.RentalCompleted, rental.Status)
}
