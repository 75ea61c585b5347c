package models

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus tracks the money side of an order. Waiting means an online order
// is expecting a processor confirmation; pending means a cash order awaiting
// fulfilment outside this system.
type PaymentStatus string

const (
	PaymentWaiting PaymentStatus = "waiting"
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodOnline PaymentMethod = "online"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCash || m == MethodOnline
}

// InitialPaymentStatus is the payment state a freshly created order starts in.
func (m PaymentMethod) InitialPaymentStatus() PaymentStatus {
	if m == MethodOnline {
		return PaymentWaiting
	}
	return PaymentPending
}

var (
	ErrIllegalTransition = errors.New("illegal order state transition")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrOrderAlreadyPaid  = errors.New("order already paid")
)

// OrderState is the pair of lifecycle and payment status.
type OrderState struct {
	Status        OrderStatus   `json:"status" bson:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus" bson:"paymentStatus"`
}

type OrderEventKind int

const (
	// EventPaymentConfirmed is raised only by a verified processor notification.
	EventPaymentConfirmed OrderEventKind = iota + 1
	// EventSetStatus is an administrator overriding the lifecycle status.
	EventSetStatus
)

type StateEvent struct {
	Kind   OrderEventKind
	Status OrderStatus // target for EventSetStatus
}

func PaymentConfirmed() StateEvent { return StateEvent{Kind: EventPaymentConfirmed} }

func SetStatus(s OrderStatus) StateEvent { return StateEvent{Kind: EventSetStatus, Status: s} }

// Apply returns the state reached by applying ev. Applying an event that is
// already reflected in the state returns the state unchanged with a nil error.
func (s OrderState) Apply(ev StateEvent) (OrderState, error) {
	switch ev.Kind {
	case EventPaymentConfirmed:
		switch s.PaymentStatus {
		case PaymentPaid:
			return s, nil
		case PaymentWaiting, PaymentFailed:
			return OrderState{Status: StatusCompleted, PaymentStatus: PaymentPaid}, nil
		}
		return s, ErrIllegalTransition

	case EventSetStatus:
		if !ev.Status.Valid() {
			return s, ErrInvalidStatus
		}
		if s.PaymentStatus == PaymentPaid && ev.Status != StatusCompleted {
			return s, ErrOrderAlreadyPaid
		}
		return OrderState{Status: ev.Status, PaymentStatus: s.PaymentStatus}, nil
	}
	return s, ErrIllegalTransition
}

// Order is immutable in content after creation; only its state moves.
type Order struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	User          primitive.ObjectID `json:"user" bson:"user"`
	Products      []LineItem         `json:"products" bson:"products"`
	Status        OrderStatus        `json:"status" bson:"status"`
	PaymentMethod PaymentMethod      `json:"paymentMethod" bson:"paymentMethod"`
	PaymentStatus PaymentStatus      `json:"paymentStatus" bson:"paymentStatus"`
	CreatedAt     time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt" bson:"updatedAt"`
}

func (o *Order) State() OrderState {
	return OrderState{Status: o.Status, PaymentStatus: o.PaymentStatus}
}

func (o *Order) SetState(s OrderState) {
	o.Status = s.Status
	o.PaymentStatus = s.PaymentStatus
}

// OrderView is an order with product references resolved. User is set only on
// administrator listings.
type OrderView struct {
	ID            primitive.ObjectID `json:"id"`
	UserID        primitive.ObjectID `json:"userId"`
	User          *UserSummary       `json:"user,omitempty"`
	Products      []ResolvedLine     `json:"products"`
	Status        OrderStatus        `json:"status"`
	PaymentMethod PaymentMethod      `json:"paymentMethod"`
	PaymentStatus PaymentStatus      `json:"paymentStatus"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// OrderEvent is published whenever an order is created or changes state.
type OrderEvent struct {
	Type          string        `json:"type"` // created, paid, status_changed, deleted
	OrderID       string        `json:"orderId"`
	UserID        string        `json:"userId"`
	Status        OrderStatus   `json:"status,omitempty"`
	PaymentStatus PaymentStatus `json:"paymentStatus,omitempty"`
	At            time.Time     `json:"at"`
}

const (
	OrderCreated       = "created"
	OrderPaid          = "paid"
	OrderStatusChanged = "status_changed"
	OrderDeleted       = "deleted"
)
