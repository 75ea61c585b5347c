package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LineItem references a product by id; product data is never embedded.
type LineItem struct {
	Product  primitive.ObjectID `json:"product" bson:"product"`
	Quantity int                `json:"quantity" bson:"quantity"`
}

// Cart is the per-user staging area. At most one exists per user.
type Cart struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	User      primitive.ObjectID `json:"user" bson:"user"`
	Products  []LineItem         `json:"products" bson:"products"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// ResolvedLine is a line item whose product reference has been fetched.
// Product is nil when the referenced record no longer exists.
type ResolvedLine struct {
	Product   *Product           `json:"product"`
	ProductID primitive.ObjectID `json:"productId"`
	Quantity  int                `json:"quantity"`
}

type CartView struct {
	ID       primitive.ObjectID `json:"id"`
	User     primitive.ObjectID `json:"user"`
	Products []ResolvedLine     `json:"products"`
}
