package repository

import (
	"context"
	"errors"
	"fmt"
	rentalserrors "rover/internal/rentals/errors"
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
	CollectionName = "Rentals"
)

type RentalRepository interface {
	// Create inserts the rental, keeping a preassigned ID when set.
	Create(ctx context.Context, rental *model.Rental) error
	FindByID(ctx context.Context, id string) (*model.Rental, error)
	// FindAll lists rentals, restricted to userID when it is not empty.
	FindAll(ctx context.Context, userID string, limit int, offset int64) ([]*model.Rental, error)
	Count(ctx context.Context, userID string) (int64, error)
	// Transition moves the rental to status if it is currently in one of from.
	Transition(ctx context.Context, id string, from []model.RentalStatus, to model.RentalStatus, now time.Time) error
	Activate(ctx context.Context, id string, start, end, now time.Time) error
	SetEndDate(ctx context.Context, id string, end, now time.Time) error
	SoftDelete(ctx context.Context, id string, now time.Time) error

	FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Rental, error)
	FindEnded(ctx context.Context, now time.Time) ([]*model.Rental, error)
	FindEndingBetween(ctx context.Context, from, to time.Time) ([]*model.Rental, error)
}

// NewID allocates a rental id before the rental is stored, so that a device
// reservation can name the rental it is held for.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

type rentalDocument struct {
	ID             primitive.ObjectID `bson:"_id"`
	UserID         string             `bson:"user_id"`
	Status         model.RentalStatus `bson:"status"`
	IntervalMonths int                `bson:"interval_months"`
	StartDate      *time.Time         `bson:"start_date"`
	EndDate        *time.Time         `bson:"end_date"`
	Cost           int64              `bson:"cost"`
	ReservedUntil  *time.Time         `bson:"reserved_until"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
	DeletedAt      *time.Time         `bson:"deleted_at"`
}

func (d *rentalDocument) toModel() *model.Rental {
	rental := &model.Rental{
		ID:             d.ID.Hex(),
		UserID:         d.UserID,
		Status:         d.Status,
		IntervalMonths: d.IntervalMonths,
		Cost:           d.Cost,
		ReservedUntil:  d.ReservedUntil,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		DeletedAt:      d.DeletedAt,
	}
	if d.StartDate != nil {
		rental.StartDate = *d.StartDate
	}
	if d.EndDate != nil {
		rental.EndDate = *d.EndDate
	}
	return rental
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type mongoRentalRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoRentalRepository(cfg *config.Config) RentalRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoRentalRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func (r *mongoRentalRepository) objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s", rentalserrors.ErrInvalidID, id)
	}
	return oid, nil
}

func live(filter bson.M) bson.M {
	filter["deleted_at"] = nil
	return filter
}

func (r *mongoRentalRepository) Create(ctx context.Context, rental *model.Rental) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	oid := primitive.NewObjectID()
	if rental.ID != "" {
		var err error
		if oid, err = r.objectID(rental.ID); err != nil {
			return err
		}
	}
	if rental.CreatedAt.IsZero() {
		rental.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	rental.UpdatedAt = rental.CreatedAt

	doc := rentalDocument{
		ID:             oid,
		UserID:         rental.UserID,
		Status:         rental.Status,
		IntervalMonths: rental.IntervalMonths,
		StartDate:      optionalTime(rental.StartDate),
		EndDate:        optionalTime(rental.EndDate),
		Cost:           rental.Cost,
		ReservedUntil:  rental.ReservedUntil,
		CreatedAt:      rental.CreatedAt,
		UpdatedAt:      rental.UpdatedAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create rental: %w", err)
	}
	rental.ID = oid.Hex()
	return nil
}

func (r *mongoRentalRepository) FindByID(ctx context.Context, id string) (*model.Rental, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	oid, err := r.objectID(id)
	if err != nil {
		return nil, err
	}

	var doc rentalDocument
	if err := r.collection.FindOne(ctx, live(bson.M{"_id": oid})).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, rentalserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find rental: %w", err)
	}
	return doc.toModel(), nil
}

func userFilter(userID string) bson.M {
	filter := live(bson.M{})
	if userID != "" {
		filter["user_id"] = userID
	}
	return filter
}

func (r *mongoRentalRepository) FindAll(ctx context.Context, userID string, limit int, offset int64) ([]*model.Rental, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)
	return r.find(ctx, userFilter(userID), opts)
}

func (r *mongoRentalRepository) Count(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, userFilter(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to count rentals: %w", err)
	}
	return count, nil
}

func (r *mongoRentalRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Rental, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find rentals: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []rentalDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode rentals: %w", err)
	}
	rentals := make([]*model.Rental, 0, len(docs))
	for i := range docs {
		rentals = append(rentals, docs[i].toModel())
	}
	return rentals, nil
}

// update applies a conditional update and tells a missing rental apart
// from one whose status no longer matches.
func (r *mongoRentalRepository) update(ctx context.Context, id string, filter bson.M, update bson.M) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	oid, err := r.objectID(id)
	if err != nil {
		return err
	}
	filter["_id"] = oid

	result, err := r.collection.UpdateOne(ctx, live(filter), update)
	if err != nil {
		return fmt.Errorf("failed to update rental: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return rentalserrors.ErrStatusChanged
	}
	return nil
}

func (r *mongoRentalRepository) Transition(ctx context.Context, id string, from []model.RentalStatus, to model.RentalStatus, now time.Time) error {
	set := bson.M{"status": to, "updated_at": now}
	if to != model.RentalPending {
		set["reserved_until"] = nil
	}
	return r.update(ctx, id, bson.M{"status": bson.M{"$in": from}}, bson.M{"$set": set})
}

func (r *mongoRentalRepository) Activate(ctx context.Context, id string, start, end, now time.Time) error {
	return r.update(ctx, id, bson.M{"status": model.RentalPending}, bson.M{"$set": bson.M{
		"status":         model.RentalActive,
		"start_date":     start,
		"end_date":       end,
		"reserved_until": nil,
		"updated_at":     now,
	}})
}

func (r *mongoRentalRepository) SetEndDate(ctx context.Context, id string, end, now time.Time) error {
	return r.update(ctx, id,
		bson.M{"status": bson.M{"$in": bson.A{model.RentalActive, model.RentalAwaitingReturn}}},
		bson.M{"$set": bson.M{"end_date": end, "updated_at": now}},
	)
}

func (r *mongoRentalRepository) SoftDelete(ctx context.Context, id string, now time.Time) error {
	return r.update(ctx, id,
		bson.M{"status": bson.M{"$ne": model.RentalActive}},
		bson.M{"$set": bson.M{"deleted_at": now, "updated_at": now}},
	)
}

func (r *mongoRentalRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Rental, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.find(ctx, live(bson.M{
		"status":         model.RentalPending,
		"reserved_until": bson.M{"$lt": now},
	}), options.Find())
}

func (r *mongoRentalRepository) FindEnded(ctx context.Context, now time.Time) ([]*model.Rental, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.find(ctx, live(bson.M{
		"status":   model.RentalActive,
		"end_date": bson.M{"$lt": now},
	}), options.Find())
}

func (r *mongoRentalRepository) FindEndingBetween(ctx context.Context, from, to time.Time) ([]*model.Rental, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.find(ctx, live(bson.M{
		"status":   model.RentalActive,
		"end_date": bson.M{"$gt": from, "$lte": to},
	}), options.Find())
}
