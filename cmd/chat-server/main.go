package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dm-chat/internal/config"
	"dm-chat/internal/handler"
	"dm-chat/internal/identity"
	"dm-chat/internal/messaging"
	"dm-chat/internal/middleware"
	"dm-chat/internal/observability"
	"dm-chat/internal/ratelimit"
	"dm-chat/internal/relay"
	"dm-chat/internal/repository/postgres"
	"dm-chat/internal/service"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	logLevel := os.Getenv("LOG_LEVEL")
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" && cfg.IsProduction() {
		logFormat = "json"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting dm-chat server",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.Port))

	// Database
	db, err := config.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		slog.Error("database unreachable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pingCancel()
	slog.Info("database connected")

	// RabbitMQ (cross-instance event bridge)
	rmqCtx, rmqCancel := context.WithTimeout(context.Background(), 60*time.Second)
	rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
	rmqCancel()
	if err != nil {
		slog.Error("failed to connect to RabbitMQ", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rmq.Close()
	slog.Info("rabbitmq connected")

	// Repositories
	chatRepo := postgres.NewChatRepository(db)
	messageRepo := postgres.NewMessageRepository(db)

	// Identity provider (external user/session service)
	identityClient := identity.NewClient(cfg.IdentityURL, cfg.IdentityAPIKey)

	// Per-user message rate limiter. The badger store survives restarts;
	// the memory store is the single-instance default.
	var limiterStore ratelimit.Store
	if cfg.RateLimitStorePath != "" {
		limiterStore, err = ratelimit.NewBadgerStore(cfg.RateLimitStorePath)
		if err != nil {
			slog.Error("failed to open rate limit store",
				slog.String("error", err.Error()),
				slog.String("path", cfg.RateLimitStorePath))
			os.Exit(1)
		}
		slog.Info("rate limit store opened", slog.String("path", cfg.RateLimitStorePath))
	} else {
		limiterStore = ratelimit.NewMemoryStore()
	}
	defer limiterStore.Close()

	limiter := ratelimit.NewSlidingWindow(limiterStore, cfg.RateLimitMax, cfg.RateLimitWindow, cfg.RateLimitFailOpen)

	// Relay hub
	hub := relay.NewHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx); err != nil && err != context.Canceled {
			slog.Error("hub stopped", slog.String("error", err.Error()))
		}
	}()

	bridge := messaging.NewEventBridge(rmq, hub)
	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	defer bridgeCancel()
	if err := bridge.Start(bridgeCtx); err != nil {
		slog.Error("failed to start event bridge", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("event bridge started", slog.String("instance_id", bridge.InstanceID()))

	// Services and handlers
	chatService := service.NewChatService(chatRepo, messageRepo, limiter, identityClient)

	chatHandler := handler.NewChatHandler(chatService)
	messageHandler := handler.NewMessageHandler(chatService)
	userHandler := handler.NewUserHandler(identityClient)

	allowedOrigins := middleware.ParseOrigins(cfg.AllowedOrigins)
	relayHandler := handler.NewRelayHandler(hub, bridge, allowedOrigins)

	// Transport-level limiter, distinct from the per-user message limiter
	apiLimiter := middleware.NewRateLimiter(20, 50)
	defer apiLimiter.Stop()

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(middleware.Metrics())
	r.Use(middleware.OpenAPIValidator(nil))

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(db, rmq))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(identityClient))
		r.Use(apiLimiter.Middleware())

		r.Get("/users", userHandler.List)
		r.Get("/users/{id}", userHandler.Get)

		r.Post("/chats", chatHandler.Create)
		r.Get("/chats", chatHandler.List)
		r.Get("/chats/{id}", chatHandler.Get)
		r.Patch("/chats/{id}", chatHandler.Update)
		r.Delete("/chats/{id}", chatHandler.Delete)

		r.Post("/chats/{id}/messages", messageHandler.Create)
		r.Get("/chats/{id}/messages", messageHandler.List)
		r.Delete("/chats/{id}/messages", messageHandler.DeleteByChat)
	})

	// Relay clients authenticate with the token query parameter
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(identityClient))
		r.Get("/ws", relayHandler.HandleConnection)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}

	bridgeCancel()
	hubCancel()

	// Give in-flight relay fan-out a moment to drain
	time.Sleep(100 * time.Millisecond)

	slog.Info("server stopped")
}
