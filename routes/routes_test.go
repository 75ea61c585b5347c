package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emporium/middleware"
	"emporium/notify"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *httprouter.Router {
	t.Helper()
	router := httprouter.New()
	require.NotPanics(t, func() {
		RoutesWrapper(router, Handlers{
			JWT:       middleware.NewJWT("secret", time.Hour),
			Hub:       notify.NewHub(),
			Upgrader:  notify.NewUpgrader(),
			UploadDir: t.TempDir(),
		})
	})
	return router
}

func TestRoutesWrapper_RegistersSurface(t *testing.T) {
	router := newRouter(t)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/auth/register"},
		{http.MethodPost, "/auth/reset-password/abc"},
		{http.MethodPut, "/auth/65f000000000000000000000"},
		{http.MethodGet, "/products"},
		{http.MethodGet, "/products/search"},
		{http.MethodGet, "/products/seller/65f000000000000000000000"},
		{http.MethodDelete, "/products/65f000000000000000000000"},
		{http.MethodPost, "/sellers"},
		{http.MethodPut, "/cart/65f000000000000000000000"},
		{http.MethodGet, "/cart/65f000000000000000000000"},
		{http.MethodPost, "/orders"},
		{http.MethodPost, "/orders/payment"},
		{http.MethodPost, "/orders/webhook"},
		{http.MethodGet, "/orders"},
		{http.MethodGet, "/orders/65f000000000000000000000"},
		{http.MethodGet, "/orders/65f000000000000000000000/receipt"},
		{http.MethodPut, "/orders/65f000000000000000000000/status"},
		{http.MethodDelete, "/orders/65f000000000000000000000"},
		{http.MethodGet, "/ws/orders"},
		{http.MethodGet, "/static/uploads/products/x.jpg"},
	}
	for _, rt := range routes {
		h, _, _ := router.Lookup(rt.method, rt.path)
		assert.NotNil(t, h, "%s %s", rt.method, rt.path)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	router := newRouter(t)

	for _, rt := range []struct{ method, path string }{
		{http.MethodPost, "/orders"},
		{http.MethodGet, "/orders"},
		{http.MethodPost, "/cart"},
		{http.MethodPost, "/products"},
		{http.MethodGet, "/ws/orders"},
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(rt.method, rt.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", rt.method, rt.path)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
