package sellers

import (
	"context"
	"errors"
	"fmt"

	"emporium/db"
	"emporium/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrSellerNotFound = errors.New("seller not found")
	ErrSellerExists   = errors.New("seller already exists")
)

type Repository interface {
	Create(ctx context.Context, s *models.Seller) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Seller, error)
	FindAll(ctx context.Context) ([]models.Seller, error)
	Rename(ctx context.Context, id primitive.ObjectID, name string) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	AddProduct(ctx context.Context, seller, product primitive.ObjectID) error
	RemoveProduct(ctx context.Context, seller, product primitive.ObjectID) error
}

type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(store *db.Store) *MongoRepository {
	return &MongoRepository{coll: store.SellerCollection}
}

func (r *MongoRepository) Create(ctx context.Context, s *models.Seller) error {
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	if s.Products == nil {
		s.Products = []primitive.ObjectID{}
	}
	if _, err := r.coll.InsertOne(ctx, s); err != nil {
		if db.IsDuplicateKey(err) {
			return ErrSellerExists
		}
		return fmt.Errorf("insert seller: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Seller, error) {
	var s models.Seller
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSellerNotFound
		}
		return nil, fmt.Errorf("find seller: %w", err)
	}
	return &s, nil
}

func (r *MongoRepository) FindAll(ctx context.Context) ([]models.Seller, error) {
	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find sellers: %w", err)
	}
	sellers := []models.Seller{}
	if err := cur.All(ctx, &sellers); err != nil {
		return nil, fmt.Errorf("decode sellers: %w", err)
	}
	return sellers, nil
}

func (r *MongoRepository) Rename(ctx context.Context, id primitive.ObjectID, name string) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"name": name}})
	if err != nil {
		if db.IsDuplicateKey(err) {
			return ErrSellerExists
		}
		return fmt.Errorf("rename seller: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrSellerNotFound
	}
	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete seller: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrSellerNotFound
	}
	return nil
}

// AddProduct records product on the seller. A missing seller record is not
// an error: sellers may list products before an administrator registers them.
func (r *MongoRepository) AddProduct(ctx context.Context, seller, product primitive.ObjectID) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": seller}, bson.M{"$addToSet": bson.M{"products": product}})
	if err != nil {
		return fmt.Errorf("add product to seller: %w", err)
	}
	return nil
}

func (r *MongoRepository) RemoveProduct(ctx context.Context, seller, product primitive.ObjectID) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": seller}, bson.M{"$pull": bson.M{"products": product}})
	if err != nil {
		return fmt.Errorf("remove product from seller: %w", err)
	}
	return nil
}
