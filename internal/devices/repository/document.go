package repository

import (
	"fmt"
	deviceserrors "rover/internal/devices/errors"
	"rover/pkg/model"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// deviceDocument is the stored form of a device. The assignment variant is
// flattened into three nullable fields: assigned_rental_id for Assigned,
// reserved_for and reserved_until for Reserved.
type deviceDocument struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	Status            model.DeviceStatus `bson:"status"`
	AssignedRentalID  *string            `bson:"assigned_rental_id"`
	ReservedFor       *string            `bson:"reserved_for"`
	ReservedUntil     *time.Time         `bson:"reserved_until"`
	FirstSessionFlag  bool               `bson:"first_session_flag"`
	FlaggedAt         *time.Time         `bson:"flagged_at"`
	LastActiveSeconds int64              `bson:"last_active_seconds"`
	SessionVersion    int64              `bson:"session_version"`
	CreatedAt         time.Time          `bson:"created_at"`
	DeletedAt         *time.Time         `bson:"deleted_at"`
}

func (d *deviceDocument) toModel() (*model.Device, error) {
	assignment, err := d.assignment()
	if err != nil {
		return nil, err
	}
	return &model.Device{
		ID:                d.ID.Hex(),
		Status:            d.Status,
		Assignment:        assignment,
		FirstSessionFlag:  d.FirstSessionFlag,
		FlaggedAt:         d.FlaggedAt,
		LastActiveSeconds: d.LastActiveSeconds,
		CreatedAt:         d.CreatedAt,
		DeletedAt:         d.DeletedAt,
	}, nil
}

func (d *deviceDocument) assignment() (model.Assignment, error) {
	switch {
	case d.AssignedRentalID != nil && d.ReservedUntil != nil:
		return model.Assignment{}, fmt.Errorf("%w: %s", deviceserrors.ErrCorruptAssignment, d.ID.Hex())
	case d.AssignedRentalID != nil:
		return model.AssignedTo(*d.AssignedRentalID), nil
	case d.ReservedUntil != nil:
		rentalID := ""
		if d.ReservedFor != nil {
			rentalID = *d.ReservedFor
		}
		return model.ReservedFor(rentalID, *d.ReservedUntil), nil
	default:
		return model.Free(), nil
	}
}

func newDocument(device *model.Device) deviceDocument {
	doc := deviceDocument{
		Status:            device.Status,
		FirstSessionFlag:  device.FirstSessionFlag,
		FlaggedAt:         device.FlaggedAt,
		LastActiveSeconds: device.LastActiveSeconds,
		CreatedAt:         device.CreatedAt,
	}
	a := device.Assignment
	switch a.State() {
	case model.StateAssigned:
		rentalID := a.RentalID()
		doc.AssignedRentalID = &rentalID
	case model.StateReserved:
		rentalID, until := a.RentalID(), a.ReservedUntil()
		doc.ReservedFor = &rentalID
		doc.ReservedUntil = &until
	}
	return doc
}
