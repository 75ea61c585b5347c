package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"emporium/apperr"
	"emporium/cart"
	"emporium/models"
	"emporium/pay"
	"emporium/rdx"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memOrders struct {
	mu      sync.Mutex
	orders  map[primitive.ObjectID]models.Order
	casMiss int // number of upcoming CompareAndSetState calls that report a miss
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[primitive.ObjectID]models.Order{}}
}

func (m *memOrders) Insert(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o
	return nil
}

func (m *memOrders) FindByID(_ context.Context, id primitive.ObjectID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (m *memOrders) FindByUser(_ context.Context, user primitive.ObjectID) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.User == user {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrders) FindAll(_ context.Context) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

func (m *memOrders) CompareAndSetState(_ context.Context, id primitive.ObjectID, from, to models.OrderState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.casMiss > 0 {
		m.casMiss--
		return false, nil
	}
	o, ok := m.orders[id]
	if !ok || o.State() != from {
		return false, nil
	}
	o.SetState(to)
	m.orders[id] = o
	return true, nil
}

func (m *memOrders) Delete(_ context.Context, id primitive.ObjectID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	delete(m.orders, id)
	return &o, nil
}

func (m *memOrders) get(id primitive.ObjectID) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	return &o
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type memCarts struct {
	mu       sync.Mutex
	carts    map[primitive.ObjectID]*models.Cart
	clearErr error
}

func newMemCarts() *memCarts {
	return &memCarts{carts: map[primitive.ObjectID]*models.Cart{}}
}

func (m *memCarts) put(user primitive.ObjectID, items ...models.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[user] = &models.Cart{ID: primitive.NewObjectID(), User: user, Products: items}
}

func (m *memCarts) FindByUser(_ context.Context, user primitive.ObjectID) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[user]
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	cp := *c
	cp.Products = append([]models.LineItem(nil), c.Products...)
	return &cp, nil
}

func (m *memCarts) ClearItems(_ context.Context, user primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	if c, ok := m.carts[user]; ok {
		c.Products = []models.LineItem{}
	}
	return nil
}

func (m *memCarts) items(user primitive.ObjectID) []models.LineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[user]; ok {
		return c.Products
	}
	return nil
}

type memProducts map[primitive.ObjectID]models.Product

func (m memProducts) FindByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Product, error) {
	out := map[primitive.ObjectID]models.Product{}
	for _, id := range ids {
		if p, ok := m[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type memUsers map[primitive.ObjectID]string

func (m memUsers) Summaries(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.UserSummary, error) {
	out := map[primitive.ObjectID]models.UserSummary{}
	for _, id := range ids {
		if name, ok := m[id]; ok {
			out[id] = models.UserSummary{ID: id, Name: name}
		}
	}
	return out, nil
}

const goodSignature = "t=1,v1=good"

// fakeGateway accepts only goodSignature and answers with the queued event.
type fakeGateway struct {
	mu       sync.Mutex
	requests []pay.CheckoutRequest
	event    pay.Event
	err      error
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req pay.CheckoutRequest) (*pay.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	return &pay.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.test/cs_test_1"}, nil
}

func (g *fakeGateway) ParseEvent(_ []byte, signature string) (*pay.Event, error) {
	if signature != goodSignature {
		return nil, apperr.SignatureInvalid(errors.New("no signatures found matching the expected signature"))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ev := g.event
	return &ev, nil
}

func (g *fakeGateway) completed(eventID, orderID, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.event = pay.Event{ID: eventID, Type: pay.EventCheckoutCompleted, OrderID: orderID, UserID: userID}
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.OrderEvent
}

func (r *recordingEvents) Emit(_ context.Context, ev models.OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEvents) ofType(typ string) []models.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.OrderEvent
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	orders   *memOrders
	carts    *memCarts
	products memProducts
	gateway  *fakeGateway
	events   *recordingEvents
	locker   *rdx.Locker
	redis    *miniredis.Miniredis

	user    models.Actor
	other   models.Actor
	admin   models.Actor
	mug     models.Product
	lamp    models.Product
	userOID primitive.ObjectID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	userOID := primitive.NewObjectID()
	otherOID := primitive.NewObjectID()
	mug := models.Product{ID: primitive.NewObjectID(), Name: "Mug", Price: 12.5, Stock: 10}
	lamp := models.Product{ID: primitive.NewObjectID(), Name: "Lamp", Price: 19.99, Stock: 3}

	f := &fixture{
		orders:   newMemOrders(),
		carts:    newMemCarts(),
		products: memProducts{mug.ID: mug, lamp.ID: lamp},
		gateway:  &fakeGateway{},
		events:   &recordingEvents{},
		locker:   rdx.NewLocker(client, 10*time.Second),
		redis:    mr,
		user:     models.Actor{UserID: userOID.Hex(), Role: models.RoleUser},
		other:    models.Actor{UserID: otherOID.Hex(), Role: models.RoleUser},
		admin:    models.Actor{UserID: primitive.NewObjectID().Hex(), Role: models.RoleAdmin},
		mug:      mug,
		lamp:     lamp,
		userOID:  userOID,
	}
	f.svc = NewService(Deps{
		Orders:        f.orders,
		Carts:         f.carts,
		Products:      f.products,
		Users:         memUsers{userOID: "Alice", otherOID: "Bob"},
		Payments:      f.gateway,
		Events:        f.events,
		Locks:         f.locker,
		Processed:     rdx.NewEventLog(client, "stripe_event:", 72*time.Hour),
		FrontendURL:   "http://shop.test",
		ReceiptSecret: "receipt-secret",
	})
	return f
}

// placeOrder fills the user's cart and turns it into an order.
func (f *fixture) placeOrder(t *testing.T, method models.PaymentMethod) *models.Order {
	t.Helper()
	f.carts.put(f.userOID, models.LineItem{Product: f.mug.ID, Quantity: 2})
	o, err := f.svc.CreateOrder(context.Background(), f.user, string(method))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}
