package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emporium/db"
	"emporium/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrCartNotFound = errors.New("cart not found")

type Repository interface {
	// Upsert creates the user's cart or replaces its items.
	Upsert(ctx context.Context, user primitive.ObjectID, items []models.LineItem) (*models.Cart, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Cart, error)
	FindByUser(ctx context.Context, user primitive.ObjectID) (*models.Cart, error)
	ReplaceItems(ctx context.Context, id primitive.ObjectID, items []models.LineItem) (*models.Cart, error)
	// ClearItems empties the user's cart. The cart document itself is kept.
	ClearItems(ctx context.Context, user primitive.ObjectID) error
}

type MongoRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoRepository(store *db.Store) *MongoRepository {
	return &MongoRepository{coll: store.CartCollection, now: time.Now}
}

func (r *MongoRepository) Upsert(ctx context.Context, user primitive.ObjectID, items []models.LineItem) (*models.Cart, error) {
	now := r.now()
	update := bson.M{
		"$set":         bson.M{"products": items, "updatedAt": now},
		"$setOnInsert": bson.M{"user": user, "createdAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c models.Cart
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"user": user}, update, opts).Decode(&c)
	if err != nil && db.IsDuplicateKey(err) {
		// lost an insert race against a concurrent upsert; the retry is an update
		err = r.coll.FindOneAndUpdate(ctx, bson.M{"user": user}, update, opts).Decode(&c)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert cart: %w", err)
	}
	return &c, nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*models.Cart, error) {
	var c models.Cart
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("find cart: %w", err)
	}
	return &c, nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Cart, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) FindByUser(ctx context.Context, user primitive.ObjectID) (*models.Cart, error) {
	return r.findOne(ctx, bson.M{"user": user})
}

func (r *MongoRepository) ReplaceItems(ctx context.Context, id primitive.ObjectID, items []models.LineItem) (*models.Cart, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var c models.Cart
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"products": items, "updatedAt": r.now()}}, opts).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("update cart: %w", err)
	}
	return &c, nil
}

func (r *MongoRepository) ClearItems(ctx context.Context, user primitive.ObjectID) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"user": user},
		bson.M{"$set": bson.M{"products": []models.LineItem{}, "updatedAt": r.now()}})
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
