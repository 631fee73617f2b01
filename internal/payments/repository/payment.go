package repository

import (
	"context"
	"errors"
	"fmt"
	paymentserrors "rover/internal/payments/errors"
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
	CollectionName = "Payments"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *model.Payment) error
	FindByID(ctx context.Context, id string) (*model.Payment, error)
	// FindLatest returns the newest payment of the given type for a rental.
	FindLatest(ctx context.Context, rentalID string, paymentType model.PaymentType) (*model.Payment, error)
	FindByRental(ctx context.Context, rentalID string) ([]*model.Payment, error)
	// MarkCompleted and MarkFailed only move pending payments and report
	// whether they did.
	MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, now time.Time) (bool, error)
	FailPendingForRental(ctx context.Context, rentalID string, paymentType model.PaymentType, now time.Time) (int64, error)
	FailPendingForExtension(ctx context.Context, extensionID string, now time.Time) (int64, error)
}

type paymentDocument struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty"`
	RentalID    string              `bson:"rental_id"`
	ExtensionID string              `bson:"extension_id,omitempty"`
	Amount      int64               `bson:"amount"`
	Status      model.PaymentStatus `bson:"status"`
	Type        model.PaymentType   `bson:"payment_type"`
	PaidAt      *time.Time          `bson:"paid_at"`
	CreatedAt   time.Time           `bson:"created_at"`
	UpdatedAt   time.Time           `bson:"updated_at"`
}

func (d *paymentDocument) toModel() *model.Payment {
	return &model.Payment{
		ID:          d.ID.Hex(),
		RentalID:    d.RentalID,
		ExtensionID: d.ExtensionID,
		Amount:      d.Amount,
		Status:      d.Status,
		Type:        d.Type,
		PaidAt:      d.PaidAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type mongoPaymentRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoPaymentRepository(cfg *config.Config) PaymentRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoPaymentRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func (r *mongoPaymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	payment.UpdatedAt = payment.CreatedAt

	result, err := r.collection.InsertOne(ctx, paymentDocument{
		RentalID:    payment.RentalID,
		ExtensionID: payment.ExtensionID,
		Amount:      payment.Amount,
		Status:      payment.Status,
		Type:        payment.Type,
		CreatedAt:   payment.CreatedAt,
		UpdatedAt:   payment.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		payment.ID = oid.Hex()
	}
	return nil
}

func (r *mongoPaymentRepository) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*model.Payment, error) {
	var doc paymentDocument
	if err := r.collection.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, paymentserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return doc.toModel(), nil
}

func (r *mongoPaymentRepository) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", paymentserrors.ErrInvalidID, id)
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *mongoPaymentRepository) FindLatest(ctx context.Context, rentalID string, paymentType model.PaymentType) (*model.Payment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.findOne(ctx,
		bson.M{"rental_id": rentalID, "payment_type": paymentType},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}),
	)
}

func (r *mongoPaymentRepository) FindByRental(ctx context.Context, rentalID string) ([]*model.Payment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{"rental_id": rentalID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find payments: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []paymentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode payments: %w", err)
	}
	payments := make([]*model.Payment, 0, len(docs))
	for i := range docs {
		payments = append(payments, docs[i].toModel())
	}
	return payments, nil
}

func (r *mongoPaymentRepository) settle(ctx context.Context, id string, set bson.M) (bool, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, fmt.Errorf("%w: %s", paymentserrors.ErrInvalidID, id)
	}
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": oid, "status": model.PaymentPending},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payment: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

func (r *mongoPaymentRepository) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.settle(ctx, id, bson.M{"status": model.PaymentCompleted, "paid_at": now, "updated_at": now})
}

func (r *mongoPaymentRepository) MarkFailed(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.settle(ctx, id, bson.M{"status": model.PaymentFailed, "updated_at": now})
}

func (r *mongoPaymentRepository) failMany(ctx context.Context, filter bson.M, now time.Time) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter["status"] = model.PaymentPending
	result, err := r.collection.UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{"status": model.PaymentFailed, "updated_at": now}})
	if err != nil {
		return 0, fmt.Errorf("failed to fail payments: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *mongoPaymentRepository) FailPendingForRental(ctx context.Context, rentalID string, paymentType model.PaymentType, now time.Time) (int64, error) {
	return r.failMany(ctx, bson.M{"rental_id": rentalID, "payment_type": paymentType}, now)
}

func (r *mongoPaymentRepository) FailPendingForExtension(ctx context.Context, extensionID string, now time.Time) (int64, error) {
	return r.failMany(ctx, bson.M{"extension_id": extensionID}, now)
}
