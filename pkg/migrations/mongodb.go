package migrations

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultMessageCollection = "omni_messages"

	IdxStreamIdempotency = "uq_omni_messages_stream_idempotency"
	IdxStreamCreated     = "idx_omni_messages_stream_created_at"
)

// EnsureMessageCollection creates the message collection and its indexes.
// The unique (stream_key, idempotency_key) index is what makes duplicate
// publishes detectable.
func EnsureMessageCollection(ctx context.Context, db *mongo.Database, name string) (*mongo.Collection, error) {
	if name == "" {
		name = DefaultMessageCollection
	}

	collections, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	if len(collections) == 0 {
		if err := db.CreateCollection(ctx, name); err != nil && !isNamespaceExists(err) {
			return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}

	collection := db.Collection(name)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "stream_key", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetName(IdxStreamIdempotency).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "stream_key", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName(IdxStreamCreated),
		},
	}

	// CreateMany is a no-op for indexes that already exist with the same spec.
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return collection, nil
}

// isNamespaceExists matches server error 48 (NamespaceExists) from a
// concurrent create.
func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == 48
}
