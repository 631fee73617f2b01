package memstore

import (
	"cmp"
	"context"
	"fmt"
	deviceserrors "rover/internal/devices/errors"
	"rover/internal/devices/repository"
	"rover/pkg/model"
	"slices"
	"strings"
	"time"
)

type deviceRow struct {
	ID                string
	Status            model.DeviceStatus
	AssignedRentalID  string
	ReservedFor       string
	ReservedUntil     *time.Time
	FirstSessionFlag  bool
	FlaggedAt         *time.Time
	LastActiveSeconds int64
	SessionVersion    int64
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

func (r *deviceRow) toModel() (*model.Device, error) {
	var assignment model.Assignment
	switch {
	case r.AssignedRentalID != "" && r.ReservedUntil != nil:
		return nil, fmt.Errorf("%w: %s", deviceserrors.ErrCorruptAssignment, r.ID)
	case r.AssignedRentalID != "":
		assignment = model.AssignedTo(r.AssignedRentalID)
	case r.ReservedUntil != nil:
		assignment = model.ReservedFor(r.ReservedFor, *r.ReservedUntil)
	default:
		assignment = model.Free()
	}
	return &model.Device{
		ID:                r.ID,
		Status:            r.Status,
		Assignment:        assignment,
		FirstSessionFlag:  r.FirstSessionFlag,
		FlaggedAt:         r.FlaggedAt,
		LastActiveSeconds: r.LastActiveSeconds,
		CreatedAt:         r.CreatedAt,
		DeletedAt:         r.DeletedAt,
	}, nil
}

func (r *deviceRow) live() bool {
	return r.DeletedAt == nil
}

func (r *deviceRow) unclaimed(now time.Time) bool {
	return r.live() && r.AssignedRentalID == "" && (r.ReservedUntil == nil || r.ReservedUntil.Before(now))
}

func (r *deviceRow) claimable(now time.Time) bool {
	return r.unclaimed(now) && r.Status != model.DeviceMaintenance && r.Status != model.DeviceError
}

type devices struct{ *Store }

// Devices returns the store as a DeviceRepository.
func (s *Store) Devices() repository.DeviceRepository {
	return devices{s}
}

// CorruptDevice gives the device both an assignment and a reservation.
func (s *Store) CorruptDevice(id, rentalID string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.data.devices.rows[id]; ok {
		row.AssignedRentalID = rentalID
		row.ReservedUntil = timePtr(until)
	}
}

func (d devices) get(op, id string) (*deviceRow, error) {
	if err := d.failure("devices." + op); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", deviceserrors.ErrInvalidID, id)
	}
	row, ok := d.data.devices.rows[id]
	if !ok || !row.live() {
		return nil, deviceserrors.ErrNotFound
	}
	return row, nil
}

func (d devices) Create(ctx context.Context, device *model.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.Create"); err != nil {
		return err
	}

	device.ID = newID()
	device.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	row := &deviceRow{
		ID:                device.ID,
		Status:            device.Status,
		FirstSessionFlag:  device.FirstSessionFlag,
		FlaggedAt:         device.FlaggedAt,
		LastActiveSeconds: device.LastActiveSeconds,
		CreatedAt:         device.CreatedAt,
	}
	switch a := device.Assignment; a.State() {
	case model.StateAssigned:
		row.AssignedRentalID = a.RentalID()
	case model.StateReserved:
		row.ReservedFor = a.RentalID()
		row.ReservedUntil = timePtr(a.ReservedUntil())
	}
	d.data.devices.insert(row.ID, row)
	return nil
}

func (d devices) FindByID(ctx context.Context, id string) (*model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, err := d.get("FindByID", id)
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (d devices) list(match func(*deviceRow) bool) ([]*model.Device, error) {
	out := []*model.Device{}
	for _, row := range d.data.devices.all() {
		if !match(row) {
			continue
		}
		device, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, device)
	}
	return out, nil
}

func (d devices) FindAll(ctx context.Context, limit int, offset int64) ([]*model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.FindAll"); err != nil {
		return nil, err
	}
	all, err := d.list((*deviceRow).live)
	if err != nil {
		return nil, err
	}
	return paginate(all, limit, offset), nil
}

func (d devices) Count(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.Count"); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range d.data.devices.rows {
		if row.live() {
			n++
		}
	}
	return n, nil
}

func (d devices) SetStatus(ctx context.Context, id string, status model.DeviceStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, err := d.get("SetStatus", id)
	if err != nil {
		return err
	}
	row.Status = status
	return nil
}

func (d devices) SoftDelete(ctx context.Context, id string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, err := d.get("SoftDelete", id)
	if err != nil {
		return err
	}
	if !row.unclaimed(now) || row.Status == model.DeviceActive {
		return deviceserrors.ErrDeviceBusy
	}
	row.DeletedAt = timePtr(now)
	return nil
}

func (d devices) FindClaimable(ctx context.Context, now time.Time, exclude []string, limit int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.FindClaimable"); err != nil {
		return nil, err
	}

	var rows []*deviceRow
	for _, row := range d.data.devices.rows {
		if row.claimable(now) && !slices.Contains(exclude, row.ID) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b *deviceRow) int {
		if c := cmp.Compare(a.LastActiveSeconds, b.LastActiveSeconds); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	ids := make([]string, 0, len(rows))
	for _, row := range paginate(rows, limit, 0) {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (d devices) claim(op, id string, now time.Time, apply func(*deviceRow)) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices." + op); err != nil {
		return false, err
	}
	if !validID(id) {
		return false, fmt.Errorf("%w: %s", deviceserrors.ErrInvalidID, id)
	}
	row, ok := d.data.devices.rows[id]
	if !ok || !row.claimable(now) {
		return false, nil
	}
	apply(row)
	return true, nil
}

func (d devices) TryReserve(ctx context.Context, id, rentalID string, now, until time.Time) (bool, error) {
	return d.claim("TryReserve", id, now, func(row *deviceRow) {
		row.ReservedFor = rentalID
		row.ReservedUntil = timePtr(until)
	})
}

func (d devices) TryAssign(ctx context.Context, id, rentalID string, now time.Time) (bool, error) {
	return d.claim("TryAssign", id, now, func(row *deviceRow) {
		row.AssignedRentalID = rentalID
		row.ReservedFor = ""
		row.ReservedUntil = nil
	})
}

func (d devices) FinalizeForRental(ctx context.Context, rentalID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.FinalizeForRental"); err != nil {
		return "", err
	}

	for _, row := range d.data.devices.all() {
		if row.live() && row.AssignedRentalID == rentalID {
			return row.ID, nil
		}
	}
	for _, row := range d.data.devices.all() {
		if row.live() && row.AssignedRentalID == "" && row.ReservedFor == rentalID {
			row.AssignedRentalID = rentalID
			row.ReservedFor = ""
			row.ReservedUntil = nil
			return row.ID, nil
		}
	}
	return "", deviceserrors.ErrNoReservation
}

func (d devices) FindByRental(ctx context.Context, rentalID string) (*model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.FindByRental"); err != nil {
		return nil, err
	}
	for _, row := range d.data.devices.all() {
		if !row.live() {
			continue
		}
		if row.AssignedRentalID == rentalID || (row.ReservedFor == rentalID && row.ReservedUntil != nil) {
			return row.toModel()
		}
	}
	return nil, deviceserrors.ErrNotFound
}

func (d devices) ReleaseRental(ctx context.Context, rentalID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.ReleaseRental"); err != nil {
		return false, err
	}
	released := false
	for _, row := range d.data.devices.rows {
		if row.AssignedRentalID == rentalID {
			row.AssignedRentalID = ""
			row.FirstSessionFlag = false
			row.FlaggedAt = nil
			released = true
		}
	}
	return released, nil
}

func (d devices) ClearReservation(ctx context.Context, rentalID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.ClearReservation"); err != nil {
		return false, err
	}
	cleared := false
	for _, row := range d.data.devices.rows {
		if row.ReservedFor == rentalID && row.AssignedRentalID == "" {
			row.ReservedFor = ""
			row.ReservedUntil = nil
			cleared = true
		}
	}
	return cleared, nil
}

func (d devices) ClearExpiredReservations(ctx context.Context, now time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.ClearExpiredReservations"); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range d.data.devices.rows {
		if row.ReservedUntil != nil && row.ReservedUntil.Before(now) {
			row.ReservedFor = ""
			row.ReservedUntil = nil
			n++
		}
	}
	return n, nil
}

func (d devices) LockForUsage(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, err := d.get("LockForUsage", id)
	if err != nil {
		return err
	}
	row.SessionVersion++
	return nil
}

func (d devices) ListPoweredOn(ctx context.Context) ([]*model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.ListPoweredOn"); err != nil {
		return nil, err
	}
	return d.list(func(row *deviceRow) bool {
		return row.live() && row.Status == model.DeviceActive
	})
}

func (d devices) MarkPoweredOn(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, err := d.get("MarkPoweredOn", id)
	if err != nil {
		return err
	}
	row.Status = model.DeviceActive
	return nil
}

func (d devices) MarkPoweredOff(ctx context.Context, id string, activeSeconds int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, err := d.get("MarkPoweredOff", id)
	if err != nil {
		return err
	}
	row.Status = model.DeviceInactive
	row.LastActiveSeconds += activeSeconds
	return nil
}

func (d devices) SetFirstSessionFlag(ctx context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, err := d.get("SetFirstSessionFlag", id)
	if err != nil {
		return err
	}
	row.FirstSessionFlag = true
	row.FlaggedAt = timePtr(at)
	return nil
}

func (d devices) ResetFirstSessionFlags(ctx context.Context, before time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("devices.ResetFirstSessionFlags"); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range d.data.devices.rows {
		if row.FirstSessionFlag && row.FlaggedAt != nil && row.FlaggedAt.Before(before) {
			row.FirstSessionFlag = false
			row.FlaggedAt = nil
			n++
		}
	}
	return n, nil
}
