// Package pay talks to the card payment processor: it opens hosted checkout
// sessions and verifies the notifications the processor sends back.
package pay

import (
	"github.com/shopspring/decimal"
)

// EventCheckoutCompleted is the only notification type that moves an order.
const EventCheckoutCompleted = "checkout.session.completed"

const (
	MetaOrderID = "orderId"
	MetaUserID  = "userId"
)

type LineItem struct {
	Name       string
	UnitAmount int64 // minor units
	Quantity   int64
}

type CheckoutRequest struct {
	OrderID    string
	UserID     string
	Items      []LineItem
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// Event is a verified processor notification. OrderID and UserID are read
// from the session metadata and are empty for other event types.
type Event struct {
	ID      string
	Type    string
	OrderID string
	UserID  string
}

var hundred = decimal.NewFromInt(100)

// UnitAmount converts a decimal price in major units to integer minor units,
// rounding half away from zero.
func UnitAmount(price float64) int64 {
	return decimal.NewFromFloat(price).Mul(hundred).Round(0).IntPart()
}
