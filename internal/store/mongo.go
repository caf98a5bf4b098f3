// internal/store/mongo.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultConnectTimeout = 10 * time.Second

// MongoConfig describes how to reach the lobby collection.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// ConnectMongo dials MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, cfg MongoConfig, logger logrus.FieldLogger) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongodb URI is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout)

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.WithField("database", cfg.Database).Info("Connected to MongoDB")
	return client, nil
}

// MongoStore persists lobbies in a single collection. Eviction is left to a TTL index on
// updatedAt; reads additionally filter on updatedAt because the TTL monitor runs lazily.
type MongoStore struct {
	coll *mongo.Collection
	ttl  time.Duration
	now  func() time.Time
}

func NewMongoStore(coll *mongo.Collection, ttl time.Duration, now func() time.Time) *MongoStore {
	if now == nil {
		now = time.Now
	}
	return &MongoStore{coll: coll, ttl: ttl, now: now}
}

// EnsureIndexes creates the TTL index on updatedAt and a lookup index on code.
// Codes are only unique among live lobbies, so the code index is not unique.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "updatedAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(s.ttl / time.Second)),
		},
		{
			Keys: bson.D{
				{Key: "code", Value: 1},
				{Key: "updatedAt", Value: -1},
			},
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create lobby indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) FindByCode(ctx context.Context, code string) (*models.Lobby, error) {
	filter := bson.M{
		"code":      code,
		"updatedAt": bson.M{"$gt": s.now().Add(-s.ttl)},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	var l models.Lobby
	err := s.coll.FindOne(ctx, filter, opts).Decode(&l)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find lobby %s: %w", code, err)
	}
	return &l, nil
}

func (s *MongoStore) Insert(ctx context.Context, l *models.Lobby) error {
	_, err := s.coll.InsertOne(ctx, l)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("insert lobby %s: %w", l.Code, err)
	}
	return nil
}

func (s *MongoStore) ReplaceByID(ctx context.Context, l *models.Lobby) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": l.ID}, l)
	if err != nil {
		return fmt.Errorf("replace lobby %s: %w", l.Code, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteByID(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete lobby %s: %w", id, err)
	}
	return nil
}
