package repository

import (
	"context"
	"errors"
	"fmt"
	returnserrors "rover/internal/returns/errors"
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
	CollectionName = "Returns"
)

type ReturnRepository interface {
	// Open creates a requested record for the rental unless one exists.
	// It reports whether a record was created.
	Open(ctx context.Context, record *model.ReturnRecord) (bool, error)
	FindByRental(ctx context.Context, rentalID string) (*model.ReturnRecord, error)
	FindAll(ctx context.Context, status model.ReturnStatus, limit int, offset int64) ([]*model.ReturnRecord, error)
	Count(ctx context.Context, status model.ReturnStatus) (int64, error)
	SetStatus(ctx context.Context, rentalID string, status model.ReturnStatus, now time.Time) error
}

type returnDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RentalID  string             `bson:"rental_id"`
	UserID    string             `bson:"user_id"`
	Status    model.ReturnStatus `bson:"status"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func (d *returnDocument) toModel() *model.ReturnRecord {
	return &model.ReturnRecord{
		ID:        d.ID.Hex(),
		RentalID:  d.RentalID,
		UserID:    d.UserID,
		Status:    d.Status,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type mongoReturnRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoReturnRepository(cfg *config.Config) ReturnRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoReturnRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func (r *mongoReturnRepository) Open(ctx context.Context, record *model.ReturnRecord) (bool, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	update := bson.M{"$setOnInsert": bson.M{
		"rental_id":  record.RentalID,
		"user_id":    record.UserID,
		"status":     model.ReturnRequested,
		"created_at": record.CreatedAt,
		"updated_at": record.CreatedAt,
	}}
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"rental_id": record.RentalID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("failed to open return record: %w", err)
	}
	if oid, ok := result.UpsertedID.(primitive.ObjectID); ok {
		record.ID = oid.Hex()
		record.Status = model.ReturnRequested
		record.UpdatedAt = record.CreatedAt
		return true, nil
	}
	return false, nil
}

func (r *mongoReturnRepository) FindByRental(ctx context.Context, rentalID string) (*model.ReturnRecord, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var doc returnDocument
	if err := r.collection.FindOne(ctx, bson.M{"rental_id": rentalID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, returnserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find return record: %w", err)
	}
	return doc.toModel(), nil
}

func statusFilter(status model.ReturnStatus) bson.M {
	if status == "" {
		return bson.M{}
	}
	return bson.M{"status": status}
}

func (r *mongoReturnRepository) FindAll(ctx context.Context, status model.ReturnStatus, limit int, offset int64) ([]*model.ReturnRecord, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)
	cursor, err := r.collection.Find(ctx, statusFilter(status), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find return records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []returnDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode return records: %w", err)
	}
	records := make([]*model.ReturnRecord, 0, len(docs))
	for i := range docs {
		records = append(records, docs[i].toModel())
	}
	return records, nil
}

func (r *mongoReturnRepository) Count(ctx context.Context, status model.ReturnStatus) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, statusFilter(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count return records: %w", err)
	}
	return count, nil
}

func (r *mongoReturnRepository) SetStatus(ctx context.Context, rentalID string, status model.ReturnStatus, now time.Time) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"rental_id": rentalID},
		bson.M{"$set": bson.M{"status": status, "updated_at": now}},
	)
	if err != nil {
		return fmt.Errorf("failed to update return record: %w", err)
	}
	if result.MatchedCount == 0 {
		return returnserrors.ErrNotFound
	}
	return nil
}
