package repository

import (
	"context"
	"fmt"
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
	CollectionName = "UsageSessions"
)

type SessionRepository interface {
	Open(ctx context.Context, session *model.UsageSession) error
	// CloseOpen ends every open session of the device at now and returns them closed.
	CloseOpen(ctx context.Context, deviceID string, now time.Time) ([]*model.UsageSession, error)
	// FindSince returns sessions still open or ending after since, oldest first.
	FindSince(ctx context.Context, deviceID string, since time.Time) ([]*model.UsageSession, error)
}

type sessionDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	DeviceID  string             `bson:"device_id"`
	StartTime time.Time          `bson:"start_time"`
	EndTime   *time.Time         `bson:"end_time"`
}

func (d *sessionDocument) toModel() *model.UsageSession {
	return &model.UsageSession{
		ID:        d.ID.Hex(),
		DeviceID:  d.DeviceID,
		StartTime: d.StartTime,
		EndTime:   d.EndTime,
	}
}

type mongoSessionRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoSessionRepository(cfg *config.Config) SessionRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoSessionRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func (r *mongoSessionRepository) Open(ctx context.Context, session *model.UsageSession) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.collection.InsertOne(ctx, sessionDocument{
		DeviceID:  session.DeviceID,
		StartTime: session.StartTime,
		EndTime:   session.EndTime,
	})
	if err != nil {
		return fmt.Errorf("failed to open usage session: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		session.ID = oid.Hex()
	}
	return nil
}

func (r *mongoSessionRepository) CloseOpen(ctx context.Context, deviceID string, now time.Time) ([]*model.UsageSession, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"device_id": deviceID, "end_time": nil}
	open, err := r.find(ctx, filter, options.Find())
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	if _, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"end_time": now}}); err != nil {
		return nil, fmt.Errorf("failed to close usage sessions: %w", err)
	}
	for _, s := range open {
		end := now
		s.EndTime = &end
	}
	return open, nil
}

func (r *mongoSessionRepository) FindSince(ctx context.Context, deviceID string, since time.Time) ([]*model.UsageSession, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"device_id": deviceID,
		"$or": bson.A{
			bson.M{"end_time": nil},
			bson.M{"end_time": bson.M{"$gt": since}},
		},
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}}))
}

func (r *mongoSessionRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.UsageSession, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find usage sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []sessionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode usage sessions: %w", err)
	}
	sessions := make([]*model.UsageSession, 0, len(docs))
	for i := range docs {
		sessions = append(sessions, docs[i].toModel())
	}
	return sessions, nil
}
