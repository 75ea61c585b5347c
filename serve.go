package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emporium/auth"
	"emporium/cart"
	"emporium/config"
	"emporium/db"
	"emporium/filemgr"
	"emporium/middleware"
	"emporium/mq"
	"emporium/notify"
	"emporium/orders"
	"emporium/pay"
	"emporium/products"
	"emporium/ratelim"
	"emporium/rdx"
	"emporium/routes"
	"emporium/sellers"
	"emporium/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	utils.SetErrorDetail(!cfg.Production())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	store, err := db.Connect(connectCtx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Printf("mongo disconnect: %v", err)
		}
	}()
	if err := store.EnsureIndexes(connectCtx); err != nil {
		return err
	}

	redisClient, err := rdx.Connect(connectCtx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	jwt := middleware.NewJWT(cfg.JWTSecret, time.Hour)

	// accounts
	userRepo := auth.NewMongoUserRepository(store)
	authSvc := auth.NewService(userRepo, jwt, auth.NewMailer(cfg.SMTP), cfg.FrontendURL)

	// catalog
	productRepo := products.NewMongoRepository(store)
	sellerRepo := sellers.NewMongoRepository(store)
	images := filemgr.NewStore(cfg.UploadDir, "/static/uploads")
	productSvc := products.NewService(productRepo, images, authSvc, sellerRepo)
	sellerSvc := sellers.NewService(sellerRepo, productRepo)

	// cart and orders
	cartRepo := cart.NewMongoRepository(store)
	cartSvc := cart.NewService(cartRepo, productRepo)
	orderSvc := orders.NewService(orders.Deps{
		Orders:        orders.NewMongoRepository(store),
		Carts:         cartRepo,
		Products:      productRepo,
		Users:         authSvc,
		Payments:      pay.NewStripeGateway(cfg.Stripe),
		Events:        mq.NewEmitter(redisClient),
		Locks:         rdx.NewLocker(redisClient, 10*time.Second),
		Processed:     rdx.NewEventLog(redisClient, "stripe_event:", 72*time.Hour),
		FrontendURL:   cfg.FrontendURL,
		ReceiptSecret: cfg.ReceiptSecret,
	})

	// order events fan out to websocket clients
	hub := notify.NewHub()
	go hub.Run()
	defer hub.Stop()
	go func() {
		if err := mq.Subscribe(ctx, redisClient, hub.Publish); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("order events subscription stopped: %v", err)
		}
	}()

	router := httprouter.New()
	routes.RoutesWrapper(router, routes.Handlers{
		JWT:         jwt,
		Idempotency: middleware.NewMongoIdempotencyStore(store),
		Upgrader:    notify.NewUpgrader(cfg.FrontendURL),
		Hub:         hub,
		UploadDir:   cfg.UploadDir,
		Auth:        auth.NewHandler(authSvc),
		Products:    products.NewHandler(productSvc),
		Sellers:     sellers.NewHandler(sellerSvc),
		Cart:        cart.NewHandler(cartSvc),
		Orders:      orders.NewHandler(orderSvc),
	})

	rateLimiter := ratelim.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	rateLimiter.Exempt(orders.WebhookPath)
	cleanupStop := make(chan struct{})
	defer close(cleanupStop)
	go rateLimiter.RunCleanup(time.Minute, cleanupStop)

	// apply middleware: logging → security headers → rate limit → CORS → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(router)
	handler := middleware.Logging(middleware.SecurityHeaders(rateLimiter.Limit(corsHandler)))

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	server.RegisterOnShutdown(func() {
		log.Println("Shutting down order hub...")
		hub.Stop()
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s (%s)", cfg.Port, cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutdown signal received; shutting down gracefully...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Println("Server stopped cleanly")
	return nil
}
