// Package allocator hands out devices to rentals.
//
// Claims never wait on each other. Each process keeps a try-lock per device
// id; a claimant that finds a candidate locked moves on to the next one. A
// won lock is held until the caller's transaction commits or aborts, so no
// other claimant in the process writes to a row with an uncommitted hold.
// The conditional update in the repository remains the source of truth
// across processes: a claim that matches no row lost a race and is skipped.
package allocator

import (
	"context"
	"errors"
	deviceserrors "rover/internal/devices/errors"
	"rover/internal/devices/repository"
	"rover/pkg/clock"
	mongotx "rover/pkg/db/mongo"
	"rover/pkg/logger"
	"sync"
	"time"
)

const DefaultCandidateBatch = 50

type Claim struct {
	DeviceID      string
	ReservedUntil time.Time
}

type Allocator struct {
	repo  repository.DeviceRepository
	clock clock.Clock
	ttl   time.Duration
	batch int
	log   *logger.Logger

	inflight sync.Map // device id -> struct{}
}

func New(repo repository.DeviceRepository, clk clock.Clock, ttl time.Duration, log *logger.Logger) *Allocator {
	return &Allocator{
		repo:  repo,
		clock: clk,
		ttl:   ttl,
		batch: DefaultCandidateBatch,
		log:   log,
	}
}

func (a *Allocator) tryLock(id string) bool {
	_, held := a.inflight.LoadOrStore(id, struct{}{})
	return !held
}

func (a *Allocator) unlock(id string) {
	a.inflight.Delete(id)
}

// ClaimFreeDevice reserves one free device for rentalID until now+TTL.
// It returns ErrNoDeviceAvailable when every candidate is taken or contended.
func (a *Allocator) ClaimFreeDevice(ctx context.Context, rentalID string) (Claim, error) {
	now := a.clock.Now()
	until := now.Add(a.ttl)

	id, err := a.claim(ctx, now, func(id string) (bool, error) {
		return a.repo.TryReserve(ctx, id, rentalID, now, until)
	})
	if err != nil {
		return Claim{}, err
	}

	a.log.Debug("Device reserved", "device_id", id, "rental_id", rentalID, "reserved_until", until)
	return Claim{DeviceID: id, ReservedUntil: until}, nil
}

// claim walks the claimable devices page by page, skipping ids already
// tried, until take wins one. It gives up only when the store has no
// untried candidate left.
func (a *Allocator) claim(ctx context.Context, now time.Time, take func(id string) (bool, error)) (string, error) {
	var tried []string
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidates, err := a.repo.FindClaimable(ctx, now, tried, a.batch)
		if err != nil {
			return "", err
		}
		if len(candidates) == 0 {
			break
		}

		for _, id := range candidates {
			tried = append(tried, id)
			if !a.tryLock(id) {
				skipped++
				continue
			}
			ok, err := take(id)
			if err != nil {
				a.unlock(id)
				return "", err
			}
			if ok {
				mongotx.OnFinish(ctx, func() { a.unlock(id) })
				return id, nil
			}
			a.unlock(id)
			skipped++
		}
	}

	if skipped > 0 {
		a.log.Debug("All claim candidates contended", "tried", len(tried), "skipped", skipped)
	}
	return "", deviceserrors.ErrNoDeviceAvailable
}

// FinalizeAssignment turns the reservation held for rentalID into a
// permanent assignment and returns the device id. Running it again for the
// same rental returns the same device. If the reservation was lost to
// another claimant, a free device is assigned directly instead.
func (a *Allocator) FinalizeAssignment(ctx context.Context, rentalID string) (string, error) {
	id, err := a.repo.FinalizeForRental(ctx, rentalID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, deviceserrors.ErrNoReservation) {
		return "", err
	}

	a.log.Warn("Reservation lost before payment, assigning another device", "rental_id", rentalID)
	now := a.clock.Now()
	return a.claim(ctx, now, func(id string) (bool, error) {
		return a.repo.TryAssign(ctx, id, rentalID, now)
	})
}

// DeviceOf returns the device reserved for or assigned to rentalID, or an
// empty id when the rental holds none.
func (a *Allocator) DeviceOf(ctx context.Context, rentalID string) (string, error) {
	device, err := a.repo.FindByRental(ctx, rentalID)
	if err != nil {
		if errors.Is(err, deviceserrors.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return device.ID, nil
}

// ReleaseAssignment returns the device owned by rentalID to the pool.
func (a *Allocator) ReleaseAssignment(ctx context.Context, rentalID string) error {
	released, err := a.repo.ReleaseRental(ctx, rentalID)
	if err != nil {
		return err
	}
	if !released {
		a.log.Warn("No device assigned to rental on release", "rental_id", rentalID)
	}
	return nil
}

// ClearReservation drops the hold placed for rentalID, if any.
func (a *Allocator) ClearReservation(ctx context.Context, rentalID string) (bool, error) {
	return a.repo.ClearReservation(ctx, rentalID)
}

// ClearExpiredReservations drops holds whose TTL passed before now.
func (a *Allocator) ClearExpiredReservations(ctx context.Context, now time.Time) (int64, error) {
	return a.repo.ClearExpiredReservations(ctx, now)
}
