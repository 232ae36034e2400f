package authstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// authBlob is the MongoDB document shape for one stored blob
type authBlob struct {
	SessionID string    `bson:"session_id"`
	Filename  string    `bson:"filename"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps auth blobs in a MongoDB collection keyed by
// (session_id, filename).
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to MongoDB and prepares the auth collection
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "filename", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth index: %w", err)
	}

	log.Info().Str("database", database).Msg("MongoDB auth store connected")
	return &MongoStore{client: client, coll: coll}, nil
}

// Get returns the blob bytes, or ErrBlobNotFound
func (s *MongoStore) Get(ctx context.Context, sessionID, filename string) ([]byte, error) {
	var blob authBlob
	err := s.coll.FindOne(ctx, bson.M{
		"session_id": sessionID,
		"filename":   filename,
	}).Decode(&blob)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read auth blob: %w", err)
	}
	return blob.Data, nil
}

// Put writes or replaces a blob
func (s *MongoStore) Put(ctx context.Context, sessionID, filename string, data []byte) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "filename": filename},
		bson.M{"$set": bson.M{
			"data":       data,
			"updated_at": time.Now(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to write auth blob: %w", err)
	}
	return nil
}

// Delete removes one blob; missing blobs are not an error
func (s *MongoStore) Delete(ctx context.Context, sessionID, filename string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{
		"session_id": sessionID,
		"filename":   filename,
	})
	if err != nil {
		return fmt.Errorf("failed to delete auth blob: %w", err)
	}
	return nil
}

// DeleteSession removes every blob belonging to a session
func (s *MongoStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return fmt.Errorf("failed to delete session blobs: %w", err)
	}
	return nil
}

// DeleteSessionExceptCreds removes every blob except creds.json
func (s *MongoStore) DeleteSessionExceptCreds(ctx context.Context, sessionID string) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{
		"session_id": sessionID,
		"filename":   bson.M{"$ne": CredsFilename},
	})
	if err != nil {
		return fmt.Errorf("failed to clear session blobs: %w", err)
	}
	return nil
}

// ListSessionIDs returns ids of sessions that have stored blobs
func (s *MongoStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	raw, err := s.coll.Distinct(ctx, "session_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// HasCreds reports whether the session has a credential blob
func (s *MongoStore) HasCreds(ctx context.Context, sessionID string) (bool, error) {
	count, err := s.coll.CountDocuments(ctx, bson.M{
		"session_id": sessionID,
		"filename":   CredsFilename,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check credentials: %w", err)
	}
	return count > 0, nil
}

// Close disconnects the MongoDB client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
