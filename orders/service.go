// Package orders turns carts into orders, takes online orders through the
// payment processor and reconciles the processor's completion notifications.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"emporium/apperr"
	"emporium/cart"
	"emporium/models"
	"emporium/pay"
	"emporium/rdx"
	"emporium/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// casAttempts bounds how often a state change is re-read and re-applied when
// a concurrent writer moved the order first.
const casAttempts = 3

type CartStore interface {
	FindByUser(ctx context.Context, user primitive.ObjectID) (*models.Cart, error)
	ClearItems(ctx context.Context, user primitive.ObjectID) error
}

type UserLookup interface {
	Summaries(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.UserSummary, error)
}

type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req pay.CheckoutRequest) (*pay.CheckoutSession, error)
	ParseEvent(payload []byte, signature string) (*pay.Event, error)
}

type EventPublisher interface {
	Emit(ctx context.Context, ev models.OrderEvent)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// EventLog remembers processor event ids that were already applied.
type EventLog interface {
	Seen(ctx context.Context, id string) (bool, error)
	MarkSeen(ctx context.Context, id string) error
}

// Deps are the collaborators of a Service. Events, Locks and Processed may be
// nil.
type Deps struct {
	Orders    Repository
	Carts     CartStore
	Products  cart.ProductLookup
	Users     UserLookup
	Payments  PaymentGateway
	Events    EventPublisher
	Locks     Locker
	Processed EventLog

	// FrontendURL is the base of the checkout success and cancel pages.
	FrontendURL string
	// ReceiptSecret signs the code printed on receipts.
	ReceiptSecret string
}

type Service struct {
	Deps
	now func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{Deps: d, now: time.Now}
}

func (s *Service) emit(ctx context.Context, typ string, o *models.Order) {
	if s.Events == nil {
		return
	}
	s.Events.Emit(ctx, models.OrderEvent{
		Type:          typ,
		OrderID:       o.ID.Hex(),
		UserID:        o.User.Hex(),
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		At:            s.now(),
	})
}

// CreateOrder snapshots the caller's cart into a new order and then empties
// the cart. The cart is only cleared once the order is stored, and a stored
// order is returned even if clearing fails.
func (s *Service) CreateOrder(ctx context.Context, actor models.Actor, method string) (*models.Order, error) {
	pm := models.PaymentMethod(method)
	if !pm.Valid() {
		return nil, apperr.Validation("Invalid payment method")
	}
	user, err := utils.ParseObjectID(actor.UserID, "user id")
	if err != nil {
		return nil, err
	}

	if s.Locks != nil {
		release, err := s.Locks.Acquire(ctx, "order_lock:"+actor.UserID)
		if err != nil {
			if errors.Is(err, rdx.ErrLockNotAcquired) {
				return nil, apperr.TooManyRequests("An order is already being placed, please retry")
			}
			return nil, apperr.Internal("Failed to acquire order lock", err)
		}
		defer release()
	}

	c, err := s.Carts.FindByUser(ctx, user)
	if err != nil && !errors.Is(err, cart.ErrCartNotFound) {
		return nil, apperr.Internal("Failed to load cart", err)
	}
	if c == nil || len(c.Products) == 0 {
		return nil, apperr.Validation("Cart is empty")
	}
	for _, l := range c.Products {
		if l.Quantity < 1 || l.Quantity > cart.MaxQuantity {
			return nil, apperr.Validation(fmt.Sprintf("Invalid quantity %d for product %s", l.Quantity, l.Product.Hex()))
		}
	}

	now := s.now()
	order := &models.Order{
		ID:            primitive.NewObjectID(),
		User:          user,
		Products:      append([]models.LineItem(nil), c.Products...),
		Status:        models.StatusPending,
		PaymentMethod: pm,
		PaymentStatus: pm.InitialPaymentStatus(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Orders.Insert(ctx, order); err != nil {
		return nil, apperr.Internal("Failed to create order", err)
	}

	// The order exists from here on. A failed clear is only logged.
	if err := s.Carts.ClearItems(ctx, user); err != nil {
		log.Printf("[CreateOrder] order %s stored but cart of user %s not cleared: %v", order.ID.Hex(), actor.UserID, err)
	}

	s.emit(ctx, models.OrderCreated, order)
	return order, nil
}

func (s *Service) load(ctx context.Context, rawID string) (*models.Order, error) {
	if rawID == "" {
		return nil, apperr.Validation("Order ID is required")
	}
	id, err := utils.ParseObjectID(rawID, "order id")
	if err != nil {
		return nil, err
	}
	o, err := s.Orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, apperr.NotFound("Order not found")
		}
		return nil, apperr.Internal("Failed to load order", err)
	}
	return o, nil
}

// CreatePaymentSession opens a checkout session for one of the caller's online
// orders. Nothing is written locally; the order stays waiting until the
// processor confirms the payment.
func (s *Service) CreatePaymentSession(ctx context.Context, actor models.Actor, rawOrderID string) (*pay.CheckoutSession, error) {
	o, err := s.load(ctx, rawOrderID)
	if err != nil {
		return nil, err
	}
	if o.User.Hex() != actor.UserID {
		return nil, apperr.NotFound("Order not found")
	}
	if o.PaymentMethod != models.MethodOnline {
		return nil, apperr.Validation("Order does not support online payment")
	}
	if o.PaymentStatus == models.PaymentPaid {
		return nil, apperr.Validation("Order already paid")
	}
	if o.Status == models.StatusCancelled {
		return nil, apperr.Validation("Order is cancelled")
	}

	lines, err := cart.Resolve(ctx, s.Products, o.Products)
	if err != nil {
		return nil, apperr.Internal("Failed to load products", err)
	}
	items := make([]pay.LineItem, 0, len(lines))
	for _, l := range lines {
		if l.Product == nil {
			return nil, apperr.Validation("Product no longer available: " + l.ProductID.Hex())
		}
		items = append(items, pay.LineItem{
			Name:       l.Product.Name,
			UnitAmount: pay.UnitAmount(l.Product.Price),
			Quantity:   int64(l.Quantity),
		})
	}

	orderID := o.ID.Hex()
	q := url.Values{"orderId": {orderID}}.Encode()
	session, err := s.Payments.CreateCheckoutSession(ctx, pay.CheckoutRequest{
		OrderID:    orderID,
		UserID:     actor.UserID,
		Items:      items,
		SuccessURL: s.FrontendURL + "/payment/success?" + q,
		CancelURL:  s.FrontendURL + "/payment/cancel?" + q,
	})
	if err != nil {
		return nil, apperr.Internal("Failed to create payment session", err)
	}
	return session, nil
}

// HandleWebhook verifies and applies a processor notification. Only a bad
// signature or a store failure is returned; notifications about unknown
// orders or of other types are acknowledged without a state change.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.Payments.ParseEvent(payload, signature)
	if err != nil {
		return err
	}
	if ev.Type != pay.EventCheckoutCompleted {
		log.Printf("[Webhook] ignoring event %s of type %s", ev.ID, ev.Type)
		return nil
	}

	if s.Processed != nil && ev.ID != "" {
		seen, err := s.Processed.Seen(ctx, ev.ID)
		if err != nil {
			log.Printf("[Webhook] event log lookup %s: %v", ev.ID, err)
		} else if seen {
			log.Printf("[Webhook] event %s already processed", ev.ID)
			return nil
		}
	}

	id, err := primitive.ObjectIDFromHex(ev.OrderID)
	if err != nil {
		log.Printf("[Webhook] event %s carries no usable order id %q", ev.ID, ev.OrderID)
		return nil
	}
	if err := s.confirmPayment(ctx, id); err != nil {
		return err
	}

	if s.Processed != nil && ev.ID != "" {
		if err := s.Processed.MarkSeen(ctx, ev.ID); err != nil {
			log.Printf("[Webhook] mark event %s processed: %v", ev.ID, err)
		}
	}
	return nil
}

func (s *Service) confirmPayment(ctx context.Context, id primitive.ObjectID) error {
	for range casAttempts {
		o, err := s.Orders.FindByID(ctx, id)
		if errors.Is(err, ErrOrderNotFound) {
			log.Printf("[Webhook] order %s not found, acknowledging", id.Hex())
			return nil
		}
		if err != nil {
			return apperr.Internal("Failed to load order", err)
		}

		cur := o.State()
		next, err := cur.Apply(models.PaymentConfirmed())
		if err != nil {
			log.Printf("[Webhook] order %s in state %s/%s cannot be paid: %v", id.Hex(), cur.Status, cur.PaymentStatus, err)
			return nil
		}
		if next == cur {
			return nil
		}

		ok, err := s.Orders.CompareAndSetState(ctx, id, cur, next)
		if err != nil {
			return apperr.Internal("Failed to update order", err)
		}
		if ok {
			o.SetState(next)
			log.Printf("[Webhook] order %s paid", id.Hex())
			s.emit(ctx, models.OrderPaid, o)
			return nil
		}
	}
	return apperr.Internal("Order changed concurrently", errors.New("state compare-and-set kept missing"))
}

// ListForUser returns the orders of rawUserID. Callers other than that user
// need the admin role.
func (s *Service) ListForUser(ctx context.Context, actor models.Actor, rawUserID string) ([]models.OrderView, error) {
	user, err := utils.ParseObjectID(rawUserID, "user id")
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(rawUserID) {
		return nil, apperr.Forbidden("Access denied")
	}
	orders, err := s.Orders.FindByUser(ctx, user)
	if err != nil {
		return nil, apperr.Internal("Failed to load orders", err)
	}
	return s.views(ctx, orders, false)
}

// ListAll returns every order with its owner resolved to a display name.
func (s *Service) ListAll(ctx context.Context) ([]models.OrderView, error) {
	orders, err := s.Orders.FindAll(ctx)
	if err != nil {
		return nil, apperr.Internal("Failed to load orders", err)
	}
	return s.views(ctx, orders, true)
}

func (s *Service) views(ctx context.Context, orders []models.Order, withUsers bool) ([]models.OrderView, error) {
	var all []models.LineItem
	userIDs := make([]primitive.ObjectID, 0, len(orders))
	for _, o := range orders {
		all = append(all, o.Products...)
		userIDs = append(userIDs, o.User)
	}
	resolved, err := cart.Resolve(ctx, s.Products, all)
	if err != nil {
		return nil, apperr.Internal("Failed to load products", err)
	}

	var users map[primitive.ObjectID]models.UserSummary
	if withUsers {
		if users, err = s.Users.Summaries(ctx, userIDs); err != nil {
			return nil, apperr.Internal("Failed to load users", err)
		}
	}

	views := make([]models.OrderView, 0, len(orders))
	offset := 0
	for _, o := range orders {
		v := models.OrderView{
			ID:            o.ID,
			UserID:        o.User,
			Products:      resolved[offset : offset+len(o.Products)],
			Status:        o.Status,
			PaymentMethod: o.PaymentMethod,
			PaymentStatus: o.PaymentStatus,
			CreatedAt:     o.CreatedAt,
		}
		offset += len(o.Products)
		if u, ok := users[o.User]; ok {
			v.User = &u
		}
		views = append(views, v)
	}
	return views, nil
}

// SetStatus is the administrative override of the lifecycle status. Paid
// orders can only be set to completed.
func (s *Service) SetStatus(ctx context.Context, rawID, status string) (*models.Order, error) {
	target := models.OrderStatus(status)
	if !target.Valid() {
		return nil, apperr.Validation("Invalid status")
	}
	for range casAttempts {
		o, err := s.load(ctx, rawID)
		if err != nil {
			return nil, err
		}
		cur := o.State()
		next, err := cur.Apply(models.SetStatus(target))
		switch {
		case errors.Is(err, models.ErrOrderAlreadyPaid):
			return nil, apperr.Validation("Paid orders stay completed")
		case err != nil:
			return nil, apperr.Validation("Invalid status")
		}
		if next == cur {
			return o, nil
		}

		ok, err := s.Orders.CompareAndSetState(ctx, o.ID, cur, next)
		if err != nil {
			return nil, apperr.Internal("Failed to update order", err)
		}
		if ok {
			o.SetState(next)
			o.UpdatedAt = s.now()
			s.emit(ctx, models.OrderStatusChanged, o)
			return o, nil
		}
	}
	return nil, apperr.Conflict("Order changed concurrently, please retry")
}

func (s *Service) Delete(ctx context.Context, rawID string) error {
	id, err := utils.ParseObjectID(rawID, "order id")
	if err != nil {
		return err
	}
	o, err := s.Orders.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return apperr.NotFound("Order not found")
		}
		return apperr.Internal("Failed to delete order", err)
	}
	s.emit(ctx, models.OrderDeleted, o)
	return nil
}

// Receipt renders a PDF receipt for an order the actor owns (or any order for
// admins).
func (s *Service) Receipt(ctx context.Context, actor models.Actor, rawID string) ([]byte, error) {
	o, err := s.load(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(o.User.Hex()) {
		return nil, apperr.NotFound("Order not found")
	}
	lines, err := cart.Resolve(ctx, s.Products, o.Products)
	if err != nil {
		return nil, apperr.Internal("Failed to load products", err)
	}
	customer := o.User.Hex()
	if users, err := s.Users.Summaries(ctx, []primitive.ObjectID{o.User}); err == nil {
		if u, ok := users[o.User]; ok {
			customer = u.Name
		}
	} else {
		log.Printf("[Receipt] user lookup for order %s: %v", o.ID.Hex(), err)
	}

	pdf, err := renderReceipt(o, lines, customer, []byte(s.ReceiptSecret))
	if err != nil {
		return nil, apperr.Internal("Failed to generate receipt", err)
	}
	return pdf, nil
}
