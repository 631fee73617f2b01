package sweepers

import (
	"context"
	"errors"
	"testing"
	"time"

	"rover/internal/devices/allocator"
	extensions "rover/internal/extensions/service"
	extensionsvalidator "rover/internal/extensions/validator"
	payments "rover/internal/payments/service"
	paymentsvalidator "rover/internal/payments/validator"
	rentals "rover/internal/rentals/service"
	rentalsvalidator "rover/internal/rentals/validator"
	"rover/internal/testutil/memstore"
	"rover/internal/testutil/recorder"
	usage "rover/internal/usage/service"
	"rover/pkg/clock"
	"rover/pkg/config"
	"rover/pkg/devicecmd"
	apperrors "rover/pkg/errors"
	"rover/pkg/logger"
	"rover/pkg/model"
	"rover/pkg/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin = model.Actor{UserID: "admin-1", Role: model.RoleAdmin}
	alice = model.Actor{UserID: "alice", Role: model.RoleUser}
	bob   = model.Actor{UserID: "bob", Role: model.RoleUser}
)

type fixture struct {
	store      *memstore.Store
	clock      *clock.FakeClock
	loc        *time.Location
	notifier   *recorder.Notifier
	commands   *recorder.Sender
	rentals    rentals.RentalService
	extensions extensions.ExtensionService
	payments   payments.PaymentService

	reservation *ReservationSweeper
	extension   *ExtensionSweeper
	endOfTerm   *EndOfTermSweeper
	overuse     *OveruseSweeper
}

func newFixture(t *testing.T, devices int) *fixture {
	t.Helper()
	ctx := context.Background()
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	log := logger.Discard()
	store := memstore.New()
	clk := clock.Fake(time.Date(2026, 3, 2, 10, 0, 0, 0, loc))
	cfg := &config.Config{Log: log, MonthlyRate: 100000}
	notifier := &recorder.Notifier{}
	commands := &recorder.Sender{}

	for range devices {
		require.NoError(t, store.Devices().Create(ctx, &model.Device{Status: model.DeviceInactive, Assignment: model.Free()}))
	}

	alloc := allocator.New(store.Devices(), clk, 30*time.Second, log)
	limits := usage.Limits{Daily: 8 * time.Hour, FirstSession: 4 * time.Hour, Cooldown: time.Hour}
	tracker := usage.NewTracker(store.Sessions(), store.Devices(), store, limits, loc, log)

	rentalService := rentals.NewRentalService(store.Rentals(), store.Payments(), store.Devices(), alloc, tracker, commands, store, rentalsvalidator.NewRentalValidator(log), clk, cfg)
	extensionService := extensions.NewExtensionService(store.Extensions(), store.Rentals(), store.Payments(), store, extensionsvalidator.NewExtensionValidator(log), clk, cfg)
	paymentService := payments.NewPaymentService(store.Payments(), store.Rentals(), store.Extensions(),
		rentalService, extensionService, notifier, store, paymentsvalidator.NewPaymentValidator(log), clk, cfg)

	return &fixture{
		store:      store,
		clock:      clk,
		loc:        loc,
		notifier:   notifier,
		commands:   commands,
		rentals:    rentalService,
		extensions: extensionService,
		payments:   paymentService,

		reservation: NewReservationSweeper(store.Rentals(), store.Payments(), alloc, store, notifier, clk, 10*time.Second, log),
		extension:   NewExtensionSweeper(store.Extensions(), store.Payments(), store.Rentals(), store, notifier, clk, 24*time.Hour, 30*time.Second, log),
		endOfTerm:   NewEndOfTermSweeper(store.Rentals(), store.Returns(), store, notifier, clk, 72*time.Hour, 24*time.Hour, log),
		overuse:     NewOveruseSweeper(store.Devices(), tracker, commands, store, clk, time.Minute, log),
	}
}

func (f *fixture) rent(t *testing.T) *model.RentalCreated {
	t.Helper()
	created, err := f.rentals.AddRental(context.Background(), alice, &model.RentalRequest{IntervalMonths: 6})
	require.NoError(t, err)
	return created
}

func (f *fixture) activate(t *testing.T) *model.RentalCreated {
	t.Helper()
	created := f.rent(t)
	_, err := f.payments.VerifyPayment(context.Background(), admin, &model.PaymentVerification{
		PaymentID: created.PaymentID,
		Type:      model.PaymentInitial,
		Status:    model.PaymentCompleted,
	})
	require.NoError(t, err)
	return created
}

func (f *fixture) rentalStatus(t *testing.T, id string) model.RentalStatus {
	t.Helper()
	rental, err := f.store.Rentals().FindByID(context.Background(), id)
	require.NoError(t, err)
	return rental.Status
}

func TestReservationSweeper_CancelsLapsedRental(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t)

	res, err := f.reservation.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Affected, "hold still live")

	f.clock.Advance(31 * time.Second)
	res, err = f.reservation.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Sweeper: Reservation, Affected: 1, Notified: 1}, res)

	assert.Equal(t, model.RentalCancelled, f.rentalStatus(t, created.RentalID))

	device, err := f.store.Devices().FindByID(ctx, created.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFree, device.Assignment.State())

	payment, err := f.store.Payments().FindByID(ctx, created.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, payment.Status)

	sent := f.notifier.OfKind(notify.KindPaymentFailed)
	require.Len(t, sent, 1)
	assert.Equal(t, alice.UserID, sent[0].UserID)
	assert.Equal(t, created.RentalID, sent[0].Payload["rental_id"])

	res, err = f.reservation.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Affected, "second tick finds nothing")
}

func TestReservationSweeper_AgreesWithClaimOnExpiry(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t)

	f.clock.Set(created.ReservedUntil)
	res, err := f.reservation.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Affected, "hold is live at its until")
	_, err = f.rentals.AddRental(ctx, bob, &model.RentalRequest{IntervalMonths: 6})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "device not claimable at its until")

	f.clock.Advance(time.Millisecond)
	res, err = f.reservation.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	assert.Equal(t, model.RentalCancelled, f.rentalStatus(t, created.RentalID))
}

func TestReservationSweeper_NotificationFailureIsCounted(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	first := f.rent(t)
	second := f.rent(t)
	f.notifier.Fail = func(n notify.Notification) error {
		if n.Payload["rental_id"] == first.RentalID {
			return errors.New("broker unavailable")
		}
		return nil
	}

	f.clock.Advance(time.Minute)
	res, err := f.reservation.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Affected)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, 1, res.Failures)

	assert.Equal(t, model.RentalCancelled, f.rentalStatus(t, first.RentalID))
	assert.Equal(t, model.RentalCancelled, f.rentalStatus(t, second.RentalID))
}

func TestReservationSweeper_RollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.rent(t)
	f.clock.Advance(time.Minute)
	f.store.FailOn("payments.FailPendingForRental", errors.New("write conflict"))

	_, err := f.reservation.Tick(ctx)
	require.Error(t, err)

	assert.Equal(t, model.RentalPending, f.rentalStatus(t, created.RentalID))
	device, err := f.store.Devices().FindByID(ctx, created.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, created.RentalID, device.Assignment.RentalID(), "hold restored by rollback")
	assert.Empty(t, f.notifier.Sent())

	res, err := f.reservation.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected, "next tick retries")
}

func TestExtensionSweeper(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.activate(t)

	ext, err := f.extensions.AddExtension(ctx, alice, created.RentalID, &model.ExtensionRequest{IntervalMonths: 6})
	require.NoError(t, err)

	f.clock.Advance(23 * time.Hour)
	res, err := f.extension.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Affected)

	f.clock.Advance(2 * time.Hour)
	res, err = f.extension.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Sweeper: Extension, Affected: 1, Notified: 1}, res)

	extension, err := f.store.Extensions().FindByID(ctx, ext.ExtensionID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionFailed, extension.Status)

	payment, err := f.store.Payments().FindByID(ctx, ext.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, payment.Status)

	sent := f.notifier.OfKind(notify.KindPaymentFailed)
	require.Len(t, sent, 1)
	assert.Equal(t, ext.ExtensionID, sent[0].Payload["extension_id"])

	_, err = f.extensions.AddExtension(ctx, alice, created.RentalID, &model.ExtensionRequest{IntervalMonths: 6})
	assert.NoError(t, err, "a failed extension frees the rental for a new one")
}

func TestEndOfTermSweeper(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	created := f.activate(t)
	rental, err := f.store.Rentals().FindByID(ctx, created.RentalID)
	require.NoError(t, err)

	f.clock.Set(rental.EndDate.Add(-48 * time.Hour))
	res, err := f.endOfTerm.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Affected)
	assert.Len(t, f.notifier.OfKind(notify.KindAlmostEnd), 1)

	f.clock.Set(rental.EndDate.Add(time.Hour))
	res, err = f.endOfTerm.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	assert.Equal(t, model.RentalAwaitingReturn, f.rentalStatus(t, created.RentalID))

	record, err := f.store.Returns().FindByRental(ctx, created.RentalID)
	require.NoError(t, err)
	assert.Equal(t, model.ReturnRequested, record.Status)
	assert.Equal(t, alice.UserID, record.UserID)

	device, err := f.store.Devices().FindByID(ctx, created.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, device.Assignment.State(), "device stays out until returned")

	res, err = f.endOfTerm.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Affected)
	assert.Len(t, f.notifier.OfKind(notify.KindAwaitingReturn), 1)
}

func TestEndOfTermAndReservationSweepersTouchDisjointRentals(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	active := f.activate(t)
	pending := f.rent(t)

	rental, err := f.store.Rentals().FindByID(ctx, active.RentalID)
	require.NoError(t, err)
	f.clock.Set(rental.EndDate.Add(time.Hour))

	res, err := f.endOfTerm.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	assert.Equal(t, model.RentalPending, f.rentalStatus(t, pending.RentalID))

	res, err = f.reservation.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	assert.Equal(t, model.RentalAwaitingReturn, f.rentalStatus(t, active.RentalID))
	assert.Equal(t, model.RentalCancelled, f.rentalStatus(t, pending.RentalID))
}

// runningDevice registers a powered on device with the given sessions.
// The last session is left open when open is true.
func (f *fixture) runningDevice(t *testing.T, open time.Time, closed ...[2]time.Time) string {
	t.Helper()
	ctx := context.Background()
	device := &model.Device{Status: model.DeviceInactive, Assignment: model.Free()}
	require.NoError(t, f.store.Devices().Create(ctx, device))
	require.NoError(t, f.store.Devices().MarkPoweredOn(ctx, device.ID))
	for _, s := range closed {
		end := s[1]
		f.store.SeedSession(device.ID, s[0], &end)
	}
	f.store.SeedSession(device.ID, open, nil)
	return device.ID
}

func TestOveruseSweeper_FirstSession(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	now := f.clock.Now()
	deviceID := f.runningDevice(t, now.Add(-(4*time.Hour + 10*time.Minute)))

	res, err := f.overuse.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Sweeper: Overuse, Affected: 1, Notified: 1}, res)

	sent := f.commands.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, deviceID, sent[0].DeviceID)
	assert.Equal(t, model.ActionOff, sent[0].Action)
	assert.Equal(t, "overuse:first_session", sent[0].Reason)

	device, err := f.store.Devices().FindByID(ctx, deviceID)
	require.NoError(t, err)
	assert.True(t, device.FirstSessionFlag)
	assert.Equal(t, model.DeviceInactive, device.Status)
	assert.Equal(t, int64((4*time.Hour+10*time.Minute)/time.Second), device.LastActiveSeconds)

	f.clock.Advance(time.Minute)
	res, err = f.overuse.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Affected)
	assert.Len(t, f.commands.Sent(), 1, "handled once per day")
}

func TestOveruseSweeper_Decisions(t *testing.T) {
	tests := []struct {
		name    string
		open    time.Duration
		closed  [][2]time.Duration // offsets from now
		flagged bool
		reason  string
	}{
		{name: "short first session", open: 2 * time.Hour},
		{name: "already handled today", open: 4*time.Hour + 10*time.Minute, flagged: true},
		{
			name:   "daily limit",
			open:   150 * time.Minute,
			closed: [][2]time.Duration{{-9 * time.Hour, -5 * time.Hour}, {-270 * time.Minute, -3 * time.Hour}},
			reason: "overuse:daily_limit",
		},
		{
			name:   "later session past four hours is not a first session",
			open:   4*time.Hour + 30*time.Minute,
			closed: [][2]time.Duration{{-9 * time.Hour, -8 * time.Hour}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			ctx := context.Background()
			now := f.clock.Now()

			var closed [][2]time.Time
			for _, c := range tt.closed {
				closed = append(closed, [2]time.Time{now.Add(c[0]), now.Add(c[1])})
			}
			deviceID := f.runningDevice(t, now.Add(-tt.open), closed...)
			if tt.flagged {
				require.NoError(t, f.store.Devices().SetFirstSessionFlag(ctx, deviceID, now.Add(-time.Minute)))
			}

			res, err := f.overuse.Tick(ctx)
			require.NoError(t, err)

			if tt.reason == "" {
				assert.Zero(t, res.Affected)
				assert.Empty(t, f.commands.Sent())
				return
			}
			assert.Equal(t, 1, res.Affected)
			sent := f.commands.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.reason, sent[0].Reason)
		})
	}
}

func TestOveruseSweeper_ResetsYesterdaysFlags(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	now := f.clock.Now()
	deviceID := f.runningDevice(t, now.Add(-30*time.Minute))
	require.NoError(t, f.store.Devices().SetFirstSessionFlag(ctx, deviceID, now.Add(-24*time.Hour)))

	_, err := f.overuse.Tick(ctx)
	require.NoError(t, err)

	device, err := f.store.Devices().FindByID(ctx, deviceID)
	require.NoError(t, err)
	assert.False(t, device.FirstSessionFlag)
}

func TestOveruseSweeper_CommandFailureIsCounted(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.commands.Fail = func(devicecmd.Command) error { return errors.New("gateway down") }
	f.runningDevice(t, f.clock.Now().Add(-5*time.Hour))

	res, err := f.overuse.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	assert.Equal(t, 1, res.Failures)
}
