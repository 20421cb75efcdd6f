package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Cursor is a single-pass, lazily consumed sequence of submission documents.
// *mongo.Cursor satisfies it.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// Source returns the submissions inserted after lastID, ascending by _id.
// A nil lastID means no lower bound.
type Source interface {
	FetchNew(ctx context.Context, lastID any) (Cursor, error)
	Ping(ctx context.Context) error
}

// MongoSource reads submissions from a MongoDB collection.
type MongoSource struct {
	col *mongo.Collection
}

// NewMongoSource reads from col; the caller owns the client.
func NewMongoSource(col *mongo.Collection) *MongoSource {
	return &MongoSource{col: col}
}

// Filter builds the query used by FetchNew.
func Filter(lastID any) bson.M {
	if lastID == nil {
		return bson.M{}
	}
	return bson.M{"_id": bson.M{"$gt": lastID}}
}

// findOptions sorts ascending by _id.
func findOptions() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
}

func (s *MongoSource) FetchNew(ctx context.Context, lastID any) (Cursor, error) {
	cur, err := s.col.Find(ctx, Filter(lastID), findOptions())
	if err != nil {
		return nil, fmt.Errorf("find new submissions: %w", err)
	}
	return cur, nil
}

func (s *MongoSource) Ping(ctx context.Context) error {
	return s.col.Database().Client().Ping(ctx, nil)
}
