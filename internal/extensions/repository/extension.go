package repository

import (
	"context"
	"errors"
	"fmt"
	extensionserrors "rover/internal/extensions/errors"
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
	CollectionName = "Extensions"
)

type ExtensionRepository interface {
	Create(ctx context.Context, extension *model.Extension) error
	FindByID(ctx context.Context, id string) (*model.Extension, error)
	FindByRental(ctx context.Context, rentalID string) ([]*model.Extension, error)
	HasPending(ctx context.Context, rentalID string) (bool, error)
	// MarkCompleted and MarkFailed only move extensions awaiting payment.
	MarkCompleted(ctx context.Context, id string, newEndDate, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, now time.Time) (bool, error)
	// FindStale lists extensions still awaiting payment that were created before cutoff.
	FindStale(ctx context.Context, cutoff time.Time) ([]*model.Extension, error)
}

type extensionDocument struct {
	ID             primitive.ObjectID    `bson:"_id,omitempty"`
	RentalID       string                `bson:"rental_id"`
	Status         model.ExtensionStatus `bson:"status"`
	IntervalMonths int                   `bson:"interval_months"`
	NewEndDate     time.Time             `bson:"new_end_date"`
	Amount         int64                 `bson:"amount"`
	CreatedAt      time.Time             `bson:"created_at"`
	UpdatedAt      time.Time             `bson:"updated_at"`
}

func (d *extensionDocument) toModel() *model.Extension {
	return &model.Extension{
		ID:             d.ID.Hex(),
		RentalID:       d.RentalID,
		Status:         d.Status,
		IntervalMonths: d.IntervalMonths,
		NewEndDate:     d.NewEndDate,
		Amount:         d.Amount,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type mongoExtensionRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoExtensionRepository(cfg *config.Config) ExtensionRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoExtensionRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func (r *mongoExtensionRepository) objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s", extensionserrors.ErrInvalidID, id)
	}
	return oid, nil
}

func (r *mongoExtensionRepository) Create(ctx context.Context, extension *model.Extension) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if extension.CreatedAt.IsZero() {
		extension.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	extension.UpdatedAt = extension.CreatedAt

	result, err := r.collection.InsertOne(ctx, extensionDocument{
		RentalID:       extension.RentalID,
		Status:         extension.Status,
		IntervalMonths: extension.IntervalMonths,
		NewEndDate:     extension.NewEndDate,
		Amount:         extension.Amount,
		CreatedAt:      extension.CreatedAt,
		UpdatedAt:      extension.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create extension: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		extension.ID = oid.Hex()
	}
	return nil
}

func (r *mongoExtensionRepository) FindByID(ctx context.Context, id string) (*model.Extension, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	oid, err := r.objectID(id)
	if err != nil {
		return nil, err
	}

	var doc extensionDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, extensionserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find extension: %w", err)
	}
	return doc.toModel(), nil
}

func (r *mongoExtensionRepository) find(ctx context.Context, filter bson.M) ([]*model.Extension, error) {
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find extensions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []extensionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode extensions: %w", err)
	}
	extensions := make([]*model.Extension, 0, len(docs))
	for i := range docs {
		extensions = append(extensions, docs[i].toModel())
	}
	return extensions, nil
}

func (r *mongoExtensionRepository) FindByRental(ctx context.Context, rentalID string) ([]*model.Extension, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.find(ctx, bson.M{"rental_id": rentalID})
}

func (r *mongoExtensionRepository) HasPending(ctx context.Context, rentalID string) (bool, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx,
		bson.M{"rental_id": rentalID, "status": model.ExtensionPendingPayment},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to count pending extensions: %w", err)
	}
	return count > 0, nil
}

func (r *mongoExtensionRepository) settle(ctx context.Context, id string, set bson.M) (bool, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	oid, err := r.objectID(id)
	if err != nil {
		return false, err
	}
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": oid, "status": model.ExtensionPendingPayment},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update extension: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

func (r *mongoExtensionRepository) MarkCompleted(ctx context.Context, id string, newEndDate, now time.Time) (bool, error) {
	return r.settle(ctx, id, bson.M{
		"status":       model.ExtensionCompleted,
		"new_end_date": newEndDate,
		"updated_at":   now,
	})
}

func (r *mongoExtensionRepository) MarkFailed(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.settle(ctx, id, bson.M{"status": model.ExtensionFailed, "updated_at": now})
}

func (r *mongoExtensionRepository) FindStale(ctx context.Context, cutoff time.Time) ([]*model.Extension, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.find(ctx, bson.M{
		"status":     model.ExtensionPendingPayment,
		"created_at": bson.M{"$lt": cutoff},
	})
}
