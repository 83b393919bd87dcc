package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConfig struct {
	URI        string `koanf:"uri" json:"uri"`
	Database   string `koanf:"database" json:"database"`
	Collection string `koanf:"collection" json:"collection"`
}

// MongoStore writes entries into a single collection indexed by pipe and
// creation time.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger zerolog.Logger
}

func OpenMongo(ctx context.Context, c MongoConfig) (*MongoStore, error) {
	if c.URI == "" {
		return nil, fmt.Errorf("mongo dead-letter store: uri is required")
	}
	if c.Database == "" {
		c.Database = "pipes"
	}
	if c.Collection == "" {
		c.Collection = "deadletters"
	}

	l := logger.GetLogger("deadletter").With().Str("store", "mongo").Logger()
	l.Trace().Msg("Connecting to mongodb...")

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(c.URI))
	if err != nil {
		l.Err(err).Msg("Error when connecting to mongodb database!")
		return nil, err
	}

	coll := client.Database(c.Database).Collection(c.Collection)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "pipe", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo dead-letter store: create index: %w", err)
	}

	return &MongoStore{client: client, coll: coll, logger: l}, nil
}

func (m *MongoStore) Put(ctx context.Context, e Entry) error {
	_, err := m.coll.InsertOne(ctx, e)
	if err != nil {
		m.logger.Err(err).Str("pipe", e.Pipe).Str("entry", e.ID).Msg("failed to insert dead-letter entry")
	}
	return err
}

func (m *MongoStore) List(ctx context.Context, pipe string, limit int) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := m.coll.Find(ctx, bson.D{{Key: "pipe", Value: pipe}}, opts)
	if err != nil {
		return nil, err
	}
	var out []Entry
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoStore) Close() error {
	return m.client.Disconnect(context.Background())
}
