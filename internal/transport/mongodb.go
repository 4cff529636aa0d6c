package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"omni/pkg/metrics"
	"omni/pkg/retry"
)

type mongoMessage struct {
	ID             primitive.ObjectID `bson:"_id"`
	StreamKey      string             `bson:"stream_key"`
	IdempotencyKey string             `bson:"idempotency_key"`
	Envelope       bson.D             `bson:"envelope"`
	CreatedAt      time.Time          `bson:"created_at"`
}

// MongoDB inserts one document per publish into a collection carrying a
// unique (stream_key, idempotency_key) index. See migrations.EnsureMessageCollection.
type MongoDB struct {
	collection *mongo.Collection
	client     *mongo.Client
}

func NewMongoDB(client *mongo.Client, collection *mongo.Collection) *MongoDB {
	return &MongoDB{client: client, collection: collection}
}

func (m *MongoDB) Name() string {
	return "mongodb"
}

func (m *MongoDB) Publish(ctx context.Context, streamKey, idempotencyKey string, payload []byte) (string, error) {
	if err := validateKeys(streamKey, idempotencyKey); err != nil {
		return "", err
	}

	var envelope bson.D
	if err := bson.UnmarshalExtJSON(payload, false, &envelope); err != nil {
		return "", retry.NewFatalError(fmt.Errorf("payload is not a JSON document: %w", err))
	}

	doc := mongoMessage{
		ID:             primitive.NewObjectID(),
		StreamKey:      streamKey,
		IdempotencyKey: idempotencyKey,
		Envelope:       envelope,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := m.collection.InsertOne(ctx, doc)
	if err == nil {
		return doc.ID.Hex(), nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return "", classifyMongo(fmt.Errorf("failed to insert message: %w", err))
	}

	var existing struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	filter := bson.M{"stream_key": streamKey, "idempotency_key": idempotencyKey}
	opts := options.FindOne().SetProjection(bson.M{"_id": 1})
	if err := m.collection.FindOne(ctx, filter, opts).Decode(&existing); err != nil {
		return "", classifyMongo(fmt.Errorf("failed to read existing message: %w", err))
	}
	metrics.IncDedupHit(m.Name())
	return existing.ID.Hex(), nil
}

func (m *MongoDB) Ping(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Ping(ctx, nil)
}

func (m *MongoDB) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func classifyMongo(err error) error {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return retry.NewRetryableError(err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		// The duplicate we collided with expired or was removed; a retry inserts again.
		return retry.NewRetryableError(err)
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.HasErrorLabel("RetryableWriteError") || cmdErr.HasErrorLabel("TransientTransactionError") {
			return retry.NewRetryableError(err)
		}
		return retry.NewFatalError(err)
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		return retry.NewFatalError(err)
	}
	return Classify(err)
}
