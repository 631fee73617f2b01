package mongo

import (
	"context"
	"fmt"
	devicesrepo "rover/internal/devices/repository"
	extensionsrepo "rover/internal/extensions/repository"
	"rover/internal/migrations/mongo/validators"
	paymentsrepo "rover/internal/payments/repository"
	rentalsrepo "rover/internal/rentals/repository"
	returnsrepo "rover/internal/returns/repository"
	usagerepo "rover/internal/usage/repository"
	"rover/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	DevicesIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "assigned_rental_id", Value: 1}}},
		{Keys: bson.D{{Key: "reserved_for", Value: 1}}},
		{Keys: bson.D{{Key: "reserved_until", Value: 1}}},
		{Keys: bson.D{
			{Key: "deleted_at", Value: 1},
			{Key: "last_active_seconds", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "first_session_flag", Value: 1},
			{Key: "flagged_at", Value: 1},
		}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}

	UsageSessionsIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "device_id", Value: 1},
			{Key: "start_time", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "device_id", Value: 1},
			{Key: "end_time", Value: 1},
		}},
	}

	RentalsIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "reserved_until", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "end_date", Value: 1},
		}},
	}

	ExtensionsIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "rental_id", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "created_at", Value: 1},
		}},
		// at most one extension awaiting payment per rental
		{
			Keys: bson.D{{Key: "rental_id", Value: 1}},
			Options: options.Index().
				SetName("rental_id_pending_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "status", Value: "pending_payment"}}),
		},
	}

	PaymentsIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "rental_id", Value: 1},
			{Key: "payment_type", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		{Keys: bson.D{{Key: "extension_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}

	ReturnsIndexes = []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "rental_id", Value: 1}},
			Options: options.Index().SetName("rental_id_unique").SetUnique(true),
		},
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "created_at", Value: 1},
		}},
	}
)

type Collection struct {
	Name      string
	Indexes   []mongo.IndexModel
	Validator bson.M
}

// Collections lists every collection the services use, in creation order.
func Collections() []Collection {
	return []Collection{
		{Name: devicesrepo.CollectionName, Indexes: DevicesIndexes, Validator: validators.DeviceValidator},
		{Name: usagerepo.CollectionName, Indexes: UsageSessionsIndexes, Validator: validators.UsageSessionValidator},
		{Name: rentalsrepo.CollectionName, Indexes: RentalsIndexes, Validator: validators.RentalValidator},
		{Name: extensionsrepo.CollectionName, Indexes: ExtensionsIndexes, Validator: validators.ExtensionValidator},
		{Name: paymentsrepo.CollectionName, Indexes: PaymentsIndexes, Validator: validators.PaymentValidator},
		{Name: returnsrepo.CollectionName, Indexes: ReturnsIndexes, Validator: validators.ReturnValidator},
	}
}

func RunMigration(ctx context.Context, client *mongo.Client, dbName string, log *logger.Logger) error {
	db := client.Database(dbName)
	log.Info("Running Mongo migrations", "database", dbName)

	for _, def := range Collections() {
		if err := ensureCollection(ctx, db, def.Name, def.Validator, log); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", def.Name, err)
		}
		if err := ensureIndexes(ctx, db, def.Name, def.Indexes, log); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", def.Name, err)
		}
	}

	log.Info("All migrations applied successfully")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection().SetValidator(validator)
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	log.Info("Collection already exists, updating validator", "collection", name)
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	coll := db.Collection(name)
	created, err := coll.Indexes().CreateMany(ctx, models)
	if err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "indexes", len(created))
	return nil
}
