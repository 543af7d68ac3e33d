package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bargom/hookrelay/internal/webhook"
)

const (
	defaultMongoDatabase   = "hookrelay"
	defaultMongoCollection = "webhook_state"

	mongoConnectTimeout = 10 * time.Second
)

// MongoRepo stores webhook statuses in a mongodb collection, one
// document per webhook with the id as _id.
type MongoRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type stateDocument struct {
	ID    int64     `bson:"_id"`
	State string    `bson:"state"`
	Since time.Time `bson:"since,omitempty"`
}

// NewMongoRepo connects to mongodb using the configured URI.
func NewMongoRepo(ctx context.Context, cfg Config) (*MongoRepo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	database := cfg.MongoDatabase
	if database == "" {
		database = defaultMongoDatabase
	}
	collection := cfg.MongoCollection
	if collection == "" {
		collection = defaultMongoCollection
	}

	return &MongoRepo{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Get returns the stored status for the webhook, or ErrNotFound.
func (r *MongoRepo) Get(ctx context.Context, id webhook.ID) (webhook.Status, error) {
	var doc stateDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": int64(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return webhook.Status{}, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return webhook.Status{}, fmt.Errorf("mongodb find: %w", err)
	}
	return doc.status(), nil
}

// Set stores the status for the webhook.
func (r *MongoRepo) Set(ctx context.Context, id webhook.ID, status webhook.Status) error {
	doc := stateDocument{
		ID:    int64(id),
		State: string(status.State),
		Since: status.Since,
	}
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": int64(id)},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongodb replace: %w", err)
	}
	return nil
}

// Delete removes the webhook's entry.
func (r *MongoRepo) Delete(ctx context.Context, id webhook.ID) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": int64(id)}); err != nil {
		return fmt.Errorf("mongodb delete: %w", err)
	}
	return nil
}

// List returns all stored entries.
func (r *MongoRepo) List(ctx context.Context) (map[webhook.ID]webhook.Status, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongodb find: %w", err)
	}
	defer cursor.Close(ctx)

	out := make(map[webhook.ID]webhook.Status)
	for cursor.Next(ctx) {
		var doc stateDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding state document: %w", err)
		}
		out[webhook.ID(doc.ID)] = doc.status()
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterating state documents: %w", err)
	}
	return out, nil
}

// Close disconnects from mongodb.
func (r *MongoRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Ping verifies the connection. Used by the readiness check.
func (r *MongoRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

func (d stateDocument) status() webhook.Status {
	return webhook.Status{State: webhook.State(d.State), Since: d.Since}
}
