package user

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const usersCollection = "users"

// MongoStore reads account records from the users collection.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(usersCollection)}
}

func (s *MongoStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	var acct Account
	err := s.coll.FindOne(ctx, bson.M{"email": email}).Decode(&acct)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &acct, nil
}
