package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"emporium/config"
	"emporium/middleware"
	"emporium/models"
	"emporium/pay"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const webhookSecret = "whsec_test"

// stripeAPI stands in for the Checkout Sessions endpoint and keeps the last
// submitted form.
type stripeAPI struct {
	mu   sync.Mutex
	form url.Values
}

func (s *stripeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.form = r.PostForm
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"id":"cs_test_e2e","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_e2e"}`)
}

func (s *stripeAPI) last() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

type apiClient struct {
	t      *testing.T
	router http.Handler
	jwt    *middleware.JWT
}

func (c *apiClient) do(method, path, token string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	c.router.ServeHTTP(rr, req)
	return rr
}

func (c *apiClient) token(a models.Actor) string {
	c.t.Helper()
	tok, err := c.jwt.Issue(a.UserID, a.Role)
	require.NoError(c.t, err)
	return tok
}

func newAPI(t *testing.T, f *fixture) (*apiClient, *stripeAPI) {
	t.Helper()
	fake := &stripeAPI{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	f.svc.Payments = pay.NewStripeGateway(config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: webhookSecret,
		APIURL:        srv.URL,
	})

	j := middleware.NewJWT("test-secret", time.Hour)
	h := NewHandler(f.svc)
	admin := middleware.Chain(j.Authenticate, middleware.RequireRoles(models.RoleAdmin))

	router := httprouter.New()
	router.POST("/orders", j.Authenticate(h.CreateOrder))
	router.POST("/orders/payment", j.Authenticate(h.CreatePaymentSession))
	router.POST(WebhookPath, h.HandleWebhook)
	router.GET("/orders", admin(h.GetAllOrders))
	router.GET("/orders/:id", j.Authenticate(h.GetUserOrders))
	router.PUT("/orders/:id/status", admin(h.UpdateOrderStatus))
	router.DELETE("/orders/:id", admin(h.DeleteOrder))
	router.GET("/orders/:id/receipt", j.Authenticate(h.GetReceipt))

	return &apiClient{t: t, router: router, jwt: j}, fake
}

func signedEvent(t *testing.T, eventID string, metadata map[string]string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   pay.EventCheckoutCompleted,
		"data": map[string]any{
			"object": map[string]any{
				"id":       "cs_test_e2e",
				"object":   "checkout.session",
				"metadata": metadata,
			},
		},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})
	return payload, signed.Header
}

func TestOnlineOrderEndToEnd(t *testing.T) {
	f := newFixture(t)
	api, stripeFake := newAPI(t, f)
	userToken := api.token(f.user)

	f.carts.put(f.userOID, models.LineItem{Product: f.mug.ID, Quantity: 2})

	rr := api.do(http.MethodPost, "/orders", userToken, []byte(`{"paymentMethod":"online"}`), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		Message string       `json:"message"`
		Order   models.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "Order created", created.Message)
	assert.Equal(t, models.PaymentWaiting, created.Order.PaymentStatus)
	orderID := created.Order.ID.Hex()

	rr = api.do(http.MethodPost, "/orders/payment", userToken, []byte(`{"orderId":"`+orderID+`"}`), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"sessionId":"cs_test_e2e","url":"https://checkout.stripe.test/cs_test_e2e"}`, rr.Body.String())

	form := stripeFake.last()
	assert.Equal(t, orderID, form.Get("metadata[orderId]"))
	assert.Equal(t, f.user.UserID, form.Get("metadata[userId]"))
	assert.Equal(t, "1250", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "2", form.Get("line_items[0][quantity]"))

	// a forged notification changes nothing
	payload, _ := signedEvent(t, "evt_forged", map[string]string{"orderId": orderID})
	_, forgedSig := signedEvent(t, "evt_other", map[string]string{"orderId": orderID})
	rr = api.do(http.MethodPost, "/orders/webhook", "", payload, map[string]string{"Stripe-Signature": forgedSig})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.PaymentWaiting, f.orders.get(created.Order.ID).PaymentStatus)

	// the processor echoes back the metadata it was given
	payload, sig := signedEvent(t, "evt_1", map[string]string{
		"orderId": form.Get("metadata[orderId]"),
		"userId":  form.Get("metadata[userId]"),
	})
	for range 2 {
		rr = api.do(http.MethodPost, "/orders/webhook", "", payload, map[string]string{"Stripe-Signature": sig})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	}

	stored := f.orders.get(created.Order.ID)
	assert.Equal(t, models.PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	rr = api.do(http.MethodPost, "/orders/payment", userToken, []byte(`{"orderId":"`+orderID+`"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "paid orders cannot be charged again")
}

func TestWebhook_UnknownOrderAcknowledged(t *testing.T) {
	f := newFixture(t)
	api, _ := newAPI(t, f)

	payload, sig := signedEvent(t, "evt_1", map[string]string{"orderId": "65f000000000000000000000"})
	rr := api.do(http.MethodPost, "/orders/webhook", "", payload, map[string]string{"Stripe-Signature": sig})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true}`, rr.Body.String())
}

func TestWebhook_UndecodableSessionAcknowledged(t *testing.T) {
	f := newFixture(t)
	api, _ := newAPI(t, f)
	o := f.placeOrder(t, models.MethodOnline)

	payload := []byte(`{"id":"evt_bad","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","metadata":"broken"}}}`)
	sig := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret}).Header
	rr := api.do(http.MethodPost, WebhookPath, "", payload, map[string]string{"Stripe-Signature": sig})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true}`, rr.Body.String())

	stored, err := f.orders.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentWaiting, stored.PaymentStatus)
}

func TestOrderRoutes_AccessControl(t *testing.T) {
	f := newFixture(t)
	api, _ := newAPI(t, f)
	o := f.placeOrder(t, models.MethodCash)

	rr := api.do(http.MethodGet, "/orders/"+f.user.UserID, api.token(f.other), nil, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = api.do(http.MethodGet, "/orders/"+f.user.UserID, api.token(f.user), nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = api.do(http.MethodGet, "/orders", api.token(f.user), nil, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = api.do(http.MethodGet, "/orders", api.token(f.admin), nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"Alice"`)

	rr = api.do(http.MethodPut, "/orders/"+o.ID.Hex()+"/status", api.token(f.user), []byte(`{"status":"cancelled"}`), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = api.do(http.MethodPut, "/orders/"+o.ID.Hex()+"/status", api.token(f.admin), []byte(`{"status":"lost"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(http.MethodPut, "/orders/"+o.ID.Hex()+"/status", api.token(f.admin), []byte(`{"status":"completed"}`), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Order status updated")

	rr = api.do(http.MethodGet, "/orders/"+o.ID.Hex()+"/receipt", api.token(f.user), nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))

	rr = api.do(http.MethodDelete, "/orders/"+o.ID.Hex(), api.token(f.admin), nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = api.do(http.MethodDelete, "/orders/"+o.ID.Hex(), api.token(f.admin), nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
