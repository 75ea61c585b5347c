package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store owns the Mongo client and the collections the service uses.
type Store struct {
	Client *mongo.Client
	DB     *mongo.Database

	UserCollection        *mongo.Collection
	ProductCollection     *mongo.Collection
	SellerCollection      *mongo.Collection
	CartCollection        *mongo.Collection
	OrderCollection       *mongo.Collection
	IdempotencyCollection *mongo.Collection
}

// Connect dials Mongo and verifies the connection with a ping.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return New(client, database), nil
}

func New(client *mongo.Client, database string) *Store {
	d := client.Database(database)
	return &Store{
		Client:                client,
		DB:                    d,
		UserCollection:        d.Collection("users"),
		ProductCollection:     d.Collection("products"),
		SellerCollection:      d.Collection("sellers"),
		CartCollection:        d.Collection("carts"),
		OrderCollection:       d.Collection("orders"),
		IdempotencyCollection: d.Collection("idempotency"),
	}
}

// EnsureIndexes creates the unique and TTL indexes the invariants rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	groups := []struct {
		coll    *mongo.Collection
		indexes []mongo.IndexModel
	}{
		{s.UserCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_email")},
			{Keys: bson.D{{Key: "resetPasswordToken", Value: 1}}, Options: options.Index().SetSparse(true).SetName("reset_token")},
		}},
		{s.SellerCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_name")},
		}},
		{s.ProductCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "seller", Value: 1}}, Options: options.Index().SetName("seller")},
		}},
		{s.CartCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_user")},
		}},
		{s.OrderCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("user_created")},
		}},
		{s.IdempotencyCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_key")},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at")},
		}},
	}

	for _, g := range groups {
		if _, err := g.coll.Indexes().CreateMany(ctx, g.indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", g.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// IsDuplicateKey reports whether err is a Mongo unique index violation.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
