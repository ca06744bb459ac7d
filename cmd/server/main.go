package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/Vishalthakur9634/course-chat/internal/auth"
	"github.com/Vishalthakur9634/course-chat/internal/chat"
	"github.com/Vishalthakur9634/course-chat/internal/config"
	"github.com/Vishalthakur9634/course-chat/internal/database"
	"github.com/Vishalthakur9634/course-chat/internal/handlers"
	"github.com/Vishalthakur9634/course-chat/internal/middleware"
	redisc "github.com/Vishalthakur9634/course-chat/internal/redis"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("starting messaging server")

	cfg := config.Load()

	db, err := database.InitDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	if err := database.RunMigrations(db); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Redis is optional: without it fan-out is per-instance only.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		rc, err := redisc.InitRedis(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to init Redis", "error", err)
			os.Exit(1)
		}
		defer rc.Close()
		redisClient = rc
		slog.Info("connected to Redis")
	}

	hub := chat.NewHub(db, redisClient)
	go hub.Run()

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(cfg.CORSOrigin))
	router.Use(middleware.RateLimit(20, 40))

	// Public routes
	router.HandleFunc("/health", handlers.Health).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/auth/register", auth.RegisterHandler(db, cfg.JWTSecret)).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/auth/login", auth.LoginHandler(db, cfg.JWTSecret)).Methods("POST", "OPTIONS")

	// WebSocket
	router.HandleFunc("/ws", chat.ServeWS(hub, cfg.JWTSecret)).Methods("GET")

	// Protected routes
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(auth.JWTMiddleware(cfg.JWTSecret))

	protected.HandleFunc("/auth/me", auth.MeHandler(db)).Methods("GET")
	protected.HandleFunc("/conversations", handlers.ListConversations(db)).Methods("GET")
	protected.HandleFunc("/messages/send", handlers.SendMessage(db)).Methods("POST")
	protected.HandleFunc("/messages/{peerId}", handlers.GetMessages(db)).Methods("GET")
	protected.HandleFunc("/messages/{peerId}/read", handlers.MarkRead(db)).Methods("POST")
	protected.HandleFunc("/users/search", handlers.SearchUsersHandler(db)).Methods("GET")
	protected.HandleFunc("/users/{id}/presence", handlers.GetPresence(redisClient)).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}
