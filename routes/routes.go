package routes

import (
	"fmt"
	"net/http"

	"emporium/auth"
	"emporium/cart"
	"emporium/middleware"
	"emporium/models"
	"emporium/notify"
	"emporium/orders"
	"emporium/products"
	"emporium/sellers"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "Ecommerce API is running")
}

func AddStaticRoutes(router *httprouter.Router, uploadDir string) {
	router.ServeFiles("/static/uploads/*filepath", http.Dir(uploadDir))
}

func AddAuthRoutes(router *httprouter.Router, jwt *middleware.JWT, h *auth.Handler) {
	router.POST("/auth/register", h.Register)
	router.POST("/auth/login", h.Login)
	router.POST("/auth/forget-password", h.ForgetPassword)
	router.POST("/auth/reset-password/:token", h.ResetPassword)
	router.PUT("/auth/:id", jwt.Authenticate(h.UpdateUser))
	router.DELETE("/auth/:id", jwt.Authenticate(h.DeleteUser))
}

func AddProductRoutes(router *httprouter.Router, jwt *middleware.JWT, h *products.Handler) {
	seller := middleware.Chain(jwt.Authenticate, middleware.RequireRoles(models.RoleSeller))
	sellerOrAdmin := middleware.Chain(jwt.Authenticate, middleware.RequireRoles(models.RoleSeller, models.RoleAdmin))

	router.GET("/products", h.GetProducts)
	router.GET("/products/search", jwt.Authenticate(h.SearchProducts))
	router.GET("/products/seller/:sellerId", sellerOrAdmin(h.GetSellerProducts))
	router.POST("/products", seller(h.CreateProduct))
	router.PUT("/products/:id", sellerOrAdmin(h.UpdateProduct))
	router.DELETE("/products/:id", sellerOrAdmin(h.DeleteProduct))
}

func AddSellerRoutes(router *httprouter.Router, jwt *middleware.JWT, h *sellers.Handler) {
	admin := middleware.Chain(jwt.Authenticate, middleware.RequireRoles(models.RoleAdmin))

	router.POST("/sellers", admin(h.CreateSeller))
	router.GET("/sellers", admin(h.GetSellers))
	router.PUT("/sellers/:id", jwt.Authenticate(h.UpdateSeller))
	router.DELETE("/sellers/:id", jwt.Authenticate(h.DeleteSeller))
}

func AddCartRoutes(router *httprouter.Router, jwt *middleware.JWT, h *cart.Handler) {
	router.POST("/cart", jwt.Authenticate(h.SaveCart))
	router.PUT("/cart/:id", jwt.Authenticate(h.UpdateCart))
	router.GET("/cart/:userId", jwt.Authenticate(h.GetCart))
}

// AddOrderRoutes registers the order endpoints. The webhook is authenticated
// by the processor signature, not by a user token.
func AddOrderRoutes(router *httprouter.Router, jwt *middleware.JWT, idem middleware.IdempotencyStore, h *orders.Handler) {
	user := middleware.Chain(jwt.Authenticate, middleware.Idempotency(idem, idempotencyTTL))
	admin := middleware.Chain(jwt.Authenticate, middleware.RequireRoles(models.RoleAdmin))

	router.POST("/orders", user(h.CreateOrder))
	router.POST("/orders/payment", user(h.CreatePaymentSession))
	router.POST(orders.WebhookPath, h.HandleWebhook)

	router.GET("/orders", admin(h.GetAllOrders))
	router.GET("/orders/:id", jwt.Authenticate(h.GetUserOrders))
	router.GET("/orders/:id/receipt", jwt.Authenticate(h.GetReceipt))
	router.PUT("/orders/:id/status", admin(h.UpdateOrderStatus))
	router.DELETE("/orders/:id", admin(h.DeleteOrder))
}

func AddNotifyRoutes(router *httprouter.Router, hub *notify.Hub, jwt *middleware.JWT, upgrader *websocket.Upgrader) {
	router.GET("/ws/orders", notify.WebSocketHandler(hub, jwt, upgrader))
}
