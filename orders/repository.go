package orders

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

var ErrOrderNotFound = errors.New("order not found")

type Repository interface {
	Insert(ctx context.Context, o *models.Order) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	FindByUser(ctx context.Context, user primitive.ObjectID) ([]models.Order, error)
	FindAll(ctx context.Context) ([]models.Order, error)
	// CompareAndSetState moves the order to `to` only if its stored state is
	// still `from`. It reports whether the write happened.
	CompareAndSetState(ctx context.Context, id primitive.ObjectID, from, to models.OrderState) (bool, error)
	// Delete removes the order and returns what was stored.
	Delete(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
}

type MongoRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoRepository(store *db.Store) *MongoRepository {
	return &MongoRepository{coll: store.OrderCollection, now: time.Now}
}

func (r *MongoRepository) Insert(ctx context.Context, o *models.Order) error {
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	var o models.Order
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&o); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return &o, nil
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}

func (r *MongoRepository) FindByUser(ctx context.Context, user primitive.ObjectID) ([]models.Order, error) {
	return r.find(ctx, bson.M{"user": user})
}

func (r *MongoRepository) FindAll(ctx context.Context) ([]models.Order, error) {
	return r.find(ctx, bson.M{})
}

func (r *MongoRepository) CompareAndSetState(ctx context.Context, id primitive.ObjectID, from, to models.OrderState) (bool, error) {
	filter := bson.M{
		"_id":           id,
		"status":        from.Status,
		"paymentStatus": from.PaymentStatus,
	}
	update := bson.M{"$set": bson.M{
		"status":        to.Status,
		"paymentStatus": to.PaymentStatus,
		"updatedAt":     r.now(),
	}}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("update order state: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (r *MongoRepository) Delete(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	var o models.Order
	if err := r.coll.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&o); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("delete order: %w", err)
	}
	return &o, nil
}
