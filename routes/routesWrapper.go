package routes

import (
	"time"

	"emporium/auth"
	"emporium/cart"
	"emporium/middleware"
	"emporium/notify"
	"emporium/orders"
	"emporium/products"
	"emporium/sellers"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const idempotencyTTL = 24 * time.Hour

// Handlers is everything the HTTP surface is built from.
type Handlers struct {
	JWT         *middleware.JWT
	Idempotency middleware.IdempotencyStore
	Upgrader    *websocket.Upgrader
	Hub         *notify.Hub
	UploadDir   string

	Auth     *auth.Handler
	Products *products.Handler
	Sellers  *sellers.Handler
	Cart     *cart.Handler
	Orders   *orders.Handler
}

func RoutesWrapper(router *httprouter.Router, h Handlers) {
	router.GET("/", Index)
	router.GET("/health", Index)

	AddAuthRoutes(router, h.JWT, h.Auth)
	AddProductRoutes(router, h.JWT, h.Products)
	AddSellerRoutes(router, h.JWT, h.Sellers)
	AddCartRoutes(router, h.JWT, h.Cart)
	AddOrderRoutes(router, h.JWT, h.Idempotency, h.Orders)
	AddNotifyRoutes(router, h.Hub, h.JWT, h.Upgrader)
	AddStaticRoutes(router, h.UploadDir)
}
