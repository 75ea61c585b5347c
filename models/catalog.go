package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Product struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name        string             `json:"name" bson:"name"`
	Description string             `json:"description" bson:"description"`
	Price       float64            `json:"price" bson:"price"`
	Stock       int                `json:"stock" bson:"stock"`
	Image       string             `json:"image" bson:"image"`
	Thumbnail   string             `json:"thumbnail,omitempty" bson:"thumbnail,omitempty"`
	Seller      primitive.ObjectID `json:"seller" bson:"seller"`
	CreatedAt   time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// ProductView is a product with its seller resolved to a display name.
type ProductView struct {
	Product
	SellerInfo *UserSummary `json:"sellerInfo,omitempty"`
}

type Seller struct {
	ID        primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	Name      string               `json:"name" bson:"name"`
	Products  []primitive.ObjectID `json:"products" bson:"products"`
	CreatedAt time.Time            `json:"createdAt" bson:"createdAt"`
}

// SellerView is a seller with its product references resolved.
type SellerView struct {
	ID       primitive.ObjectID `json:"id"`
	Name     string             `json:"name"`
	Products []Product          `json:"products"`
}
