// Package mongotest connects integration tests to a live MongoDB.
package mongotest

import (
	"context"
	"os"
	"rover/pkg/client"
	"rover/pkg/config"
	"rover/pkg/logger"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultMongoURI     = "mongodb://localhost:27017/?replicaSet=rs0"
	DefaultDatabaseName = "rover_test"
	ConnectionTimeout   = 10 * time.Second
)

// Helper owns a client bound to a throwaway database.
type Helper struct {
	Client   *mongo.Client
	Database *mongo.Database
	Config   *config.Config
}

// New connects using TEST_MONGO_URI and TEST_DB_NAME, skipping the test when
// no server answers. The database is dropped on cleanup.
func New(t *testing.T) *Helper {
	t.Helper()

	uri := getEnv("TEST_MONGO_URI", DefaultMongoURI)
	dbName := getEnv("TEST_DB_NAME", DefaultDatabaseName)

	ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
	defer cancel()

	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("mongo unavailable: %v", err)
	}
	if err := mc.Ping(ctx, nil); err != nil {
		t.Skipf("mongo unavailable: %v", err)
	}

	h := &Helper{
		Client:   mc,
		Database: mc.Database(dbName),
		Config: &config.Config{
			MongoURI:          uri,
			MongoDatabaseName: dbName,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      5 * time.Second,
			Log:               logger.Discard(),
			Client:            &client.Client{Mongo: mc},
		},
	}
	h.Clean(t)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Database.Drop(ctx); err != nil {
			t.Logf("warning: failed to drop %s: %v", dbName, err)
		}
		if err := mc.Disconnect(ctx); err != nil {
			t.Logf("warning: failed to disconnect from MongoDB: %v", err)
		}
	})
	return h
}

// Clean drops every collection in the test database.
func (h *Helper) Clean(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	names, err := h.Database.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		t.Fatalf("failed to list collections: %v", err)
	}
	for _, name := range names {
		if err := h.Database.Collection(name).Drop(ctx); err != nil {
			t.Fatalf("failed to drop collection %s: %v", name, err)
		}
	}
}

// Count returns the number of documents matching filter in collection.
func (h *Helper) Count(t *testing.T, collection string, filter any) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := h.Database.Collection(collection).CountDocuments(ctx, filter)
	if err != nil {
		t.Fatalf("failed to count documents in %s: %v", collection, err)
	}
	return n
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
