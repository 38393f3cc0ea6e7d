package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStore implements DocumentStore on top of a MongoDB database.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *zap.SugaredLogger
}

// NewMongoStore connects to the MongoDB instance at uri and returns a
// store bound to the named database.
func NewMongoStore(ctx context.Context, uri, dbName string, logger *zap.SugaredLogger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo at %s: %w", uri, err)
	}

	// Fail fast on a bad URI rather than on the first read
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo at %s: %w", uri, err)
	}

	logger.Infof("Connected to mongo database '%s'", dbName)

	return &MongoStore{
		client:   client,
		database: client.Database(dbName),
		logger:   logger,
	}, nil
}

func (s *MongoStore) GetDocument(ctx context.Context, collection, id string) (bson.M, error) {
	var doc bson.M
	err := s.database.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *MongoStore) InsertDocument(ctx context.Context, collection string, doc bson.M) error {
	_, err := s.database.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return nil
}

func (s *MongoStore) UpdateDocument(ctx context.Context, collection, id string, update Update) error {
	if update.Empty() {
		return nil
	}

	fields := bson.M{}
	if len(update.Set) > 0 {
		fields["$set"] = bson.M(update.Set)
	}
	if len(update.AddToSet) > 0 {
		add := bson.M{}
		for field, value := range update.AddToSet {
			add[field] = value
		}
		fields["$addToSet"] = add
	}
	if len(update.Pull) > 0 {
		pull := bson.M{}
		for field, value := range update.Pull {
			pull[field] = value
		}
		fields["$pull"] = pull
	}

	result, err := s.database.Collection(collection).UpdateByID(ctx, id, fields)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteDocument(ctx context.Context, collection, id string) error {
	result, err := s.database.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) QueryWhere(ctx context.Context, collection, field string, value interface{}) ([]bson.M, error) {
	cursor, err := s.database.Collection(collection).Find(ctx, bson.M{field: value})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s where %s equals %v: %w", collection, field, value, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode %s query results: %w", collection, err)
	}
	return docs, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
