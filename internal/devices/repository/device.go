package repository

import (
	"context"
	"errors"
	"fmt"
	deviceserrors "rover/internal/devices/errors"
	"rover/pkg/config"
	mongotx "rover/pkg/db/mongo"
	"rover/pkg/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Devices"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *model.Device) error
	FindByID(ctx context.Context, id string) (*model.Device, error)
	FindAll(ctx context.Context, limit int, offset int64) ([]*model.Device, error)
	Count(ctx context.Context) (int64, error)
	SetStatus(ctx context.Context, id string, status model.DeviceStatus) error
	SoftDelete(ctx context.Context, id string, now time.Time) error

	// FindClaimable lists ids of devices that are neither assigned nor held
	// by a live reservation at now, leaving out the ids in exclude.
	FindClaimable(ctx context.Context, now time.Time, exclude []string, limit int) ([]string, error)
	// TryReserve places a hold for rentalID if the device is still claimable.
	// It reports false when another claimant got there first.
	TryReserve(ctx context.Context, id, rentalID string, now, until time.Time) (bool, error)
	// TryAssign assigns a claimable device directly to rentalID.
	TryAssign(ctx context.Context, id, rentalID string, now time.Time) (bool, error)
	// FinalizeForRental converts the reservation held for rentalID into an
	// assignment. A device already assigned to rentalID is returned as is.
	FinalizeForRental(ctx context.Context, rentalID string) (string, error)
	FindByRental(ctx context.Context, rentalID string) (*model.Device, error)
	ReleaseRental(ctx context.Context, rentalID string) (bool, error)
	ClearReservation(ctx context.Context, rentalID string) (bool, error)
	ClearExpiredReservations(ctx context.Context, now time.Time) (int64, error)

	// LockForUsage serializes usage bookkeeping per device inside a transaction.
	LockForUsage(ctx context.Context, id string) error
	ListPoweredOn(ctx context.Context) ([]*model.Device, error)
	MarkPoweredOn(ctx context.Context, id string) error
	MarkPoweredOff(ctx context.Context, id string, activeSeconds int64) error
	SetFirstSessionFlag(ctx context.Context, id string, at time.Time) error
	ResetFirstSessionFlags(ctx context.Context, before time.Time) (int64, error)
}

type mongoDeviceRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoDeviceRepository(cfg *config.Config) DeviceRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoDeviceRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func notDeleted() bson.E {
	return bson.E{Key: "deleted_at", Value: nil}
}

// unclaimedFilter matches devices with no assignment and no live reservation.
func unclaimedFilter(now time.Time) bson.D {
	return bson.D{
		notDeleted(),
		{Key: "assigned_rental_id", Value: nil},
		{Key: "$or", Value: bson.A{
			bson.M{"reserved_until": nil},
			bson.M{"reserved_until": bson.M{"$lt": now}},
		}},
	}
}

// claimableFilter additionally excludes devices taken out of service.
func claimableFilter(now time.Time) bson.D {
	return append(unclaimedFilter(now),
		bson.E{Key: "status", Value: bson.M{"$nin": bson.A{model.DeviceMaintenance, model.DeviceError}}},
	)
}

func (r *mongoDeviceRepository) objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s", deviceserrors.ErrInvalidID, id)
	}
	return oid, nil
}

func (r *mongoDeviceRepository) Create(ctx context.Context, device *model.Device) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	device.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	doc := newDocument(device)
	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		device.ID = oid.Hex()
	}
	return nil
}

func (r *mongoDeviceRepository) FindByID(ctx context.Context, id string) (*model.Device, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	oid, err := r.objectID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.D{{Key: "_id", Value: oid}, notDeleted()})
}

func (r *mongoDeviceRepository) findOne(ctx context.Context, filter bson.D) (*model.Device, error) {
	var doc deviceDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, deviceserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}
	return doc.toModel()
}

func (r *mongoDeviceRepository) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]*model.Device, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find devices: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []deviceDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}

	devices := make([]*model.Device, 0, len(docs))
	for i := range docs {
		device, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func (r *mongoDeviceRepository) FindAll(ctx context.Context, limit int, offset int64) ([]*model.Device, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)
	return r.find(ctx, bson.D{notDeleted()}, opts)
}

func (r *mongoDeviceRepository) Count(ctx context.Context) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.D{notDeleted()})
	if err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}

func (r *mongoDeviceRepository) updateByID(ctx context.Context, id string, update bson.M) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	oid, err := r.objectID(id)
	if err != nil {
		return err
	}
	result, err := r.collection.UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}, notDeleted()}, update)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	if result.MatchedCount == 0 {
		return deviceserrors.ErrNotFound
	}
	return nil
}

func (r *mongoDeviceRepository) SetStatus(ctx context.Context, id string, status model.DeviceStatus) error {
	return r.updateByID(ctx, id, bson.M{"$set": bson.M{"status": status}})
}

func (r *mongoDeviceRepository) SoftDelete(ctx context.Context, id string, now time.Time) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	oid, err := r.objectID(id)
	if err != nil {
		return err
	}
	filter := append(unclaimedFilter(now),
		bson.E{Key: "_id", Value: oid},
		bson.E{Key: "status", Value: bson.M{"$ne": model.DeviceActive}},
	)
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"deleted_at": now}})
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return deviceserrors.ErrDeviceBusy
	}
	return nil
}

func (r *mongoDeviceRepository) FindClaimable(ctx context.Context, now time.Time, exclude []string, limit int) ([]string, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := claimableFilter(now)
	if len(exclude) > 0 {
		oids := make(bson.A, 0, len(exclude))
		for _, id := range exclude {
			oid, err := r.objectID(id)
			if err != nil {
				return nil, err
			}
			oids = append(oids, oid)
		}
		filter = append(filter, bson.E{Key: "_id", Value: bson.M{"$nin": oids}})
	}

	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "last_active_seconds", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find claimable devices: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode claimable devices: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID.Hex())
	}
	return ids, nil
}

func (r *mongoDeviceRepository) claim(ctx context.Context, id string, now time.Time, set bson.M) (bool, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	oid, err := r.objectID(id)
	if err != nil {
		return false, err
	}
	filter := append(claimableFilter(now), bson.E{Key: "_id", Value: oid})
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to claim device: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

func (r *mongoDeviceRepository) TryReserve(ctx context.Context, id, rentalID string, now, until time.Time) (bool, error) {
	return r.claim(ctx, id, now, bson.M{
		"reserved_for":   rentalID,
		"reserved_until": until,
	})
}

func (r *mongoDeviceRepository) TryAssign(ctx context.Context, id, rentalID string, now time.Time) (bool, error) {
	return r.claim(ctx, id, now, bson.M{
		"assigned_rental_id": rentalID,
		"reserved_for":       nil,
		"reserved_until":     nil,
	})
}

func (r *mongoDeviceRepository) FinalizeForRental(ctx context.Context, rentalID string) (string, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	existing, err := r.findOne(ctx, bson.D{{Key: "assigned_rental_id", Value: rentalID}, notDeleted()})
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, deviceserrors.ErrNotFound) {
		return "", err
	}

	filter := bson.D{
		{Key: "reserved_for", Value: rentalID},
		{Key: "assigned_rental_id", Value: nil},
		notDeleted(),
	}
	update := bson.M{"$set": bson.M{
		"assigned_rental_id": rentalID,
		"reserved_for":       nil,
		"reserved_until":     nil,
	}}
	opts := options.FindOneAndUpdate().
		SetProjection(bson.M{"_id": 1}).
		SetReturnDocument(options.After)

	var row struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&row); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", deviceserrors.ErrNoReservation
		}
		return "", fmt.Errorf("failed to finalize device assignment: %w", err)
	}
	return row.ID.Hex(), nil
}

func (r *mongoDeviceRepository) FindByRental(ctx context.Context, rentalID string) (*model.Device, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.findOne(ctx, bson.D{
		notDeleted(),
		{Key: "$or", Value: bson.A{
			bson.M{"assigned_rental_id": rentalID},
			bson.M{"reserved_for": rentalID, "reserved_until": bson.M{"$ne": nil}},
		}},
	})
}

func (r *mongoDeviceRepository) ReleaseRental(ctx context.Context, rentalID string) (bool, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.collection.UpdateMany(ctx,
		bson.M{"assigned_rental_id": rentalID},
		bson.M{"$set": bson.M{
			"assigned_rental_id": nil,
			"first_session_flag": false,
			"flagged_at":         nil,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to release device: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

func (r *mongoDeviceRepository) ClearReservation(ctx context.Context, rentalID string) (bool, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.collection.UpdateMany(ctx,
		bson.M{"reserved_for": rentalID, "assigned_rental_id": nil},
		bson.M{"$set": bson.M{"reserved_for": nil, "reserved_until": nil}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to clear reservation: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

func (r *mongoDeviceRepository) ClearExpiredReservations(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.collection.UpdateMany(ctx,
		bson.M{"reserved_until": bson.M{"$lt": now}},
		bson.M{"$set": bson.M{"reserved_for": nil, "reserved_until": nil}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired reservations: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *mongoDeviceRepository) LockForUsage(ctx context.Context, id string) error {
	return r.updateByID(ctx, id, bson.M{"$inc": bson.M{"session_version": 1}})
}

func (r *mongoDeviceRepository) ListPoweredOn(ctx context.Context) ([]*model.Device, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.find(ctx, bson.D{notDeleted(), {Key: "status", Value: model.DeviceActive}}, options.Find())
}

func (r *mongoDeviceRepository) MarkPoweredOn(ctx context.Context, id string) error {
	return r.updateByID(ctx, id, bson.M{"$set": bson.M{"status": model.DeviceActive}})
}

func (r *mongoDeviceRepository) MarkPoweredOff(ctx context.Context, id string, activeSeconds int64) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{"status": model.DeviceInactive},
		"$inc": bson.M{"last_active_seconds": activeSeconds},
	})
}

func (r *mongoDeviceRepository) SetFirstSessionFlag(ctx context.Context, id string, at time.Time) error {
	return r.updateByID(ctx, id, bson.M{"$set": bson.M{
		"first_session_flag": true,
		"flagged_at":         at,
	}})
}

func (r *mongoDeviceRepository) ResetFirstSessionFlags(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.collection.UpdateMany(ctx,
		bson.M{"first_session_flag": true, "flagged_at": bson.M{"$lt": before}},
		bson.M{"$set": bson.M{"first_session_flag": false, "flagged_at": nil}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset first session flags: %w", err)
	}
	return result.ModifiedCount, nil
}
