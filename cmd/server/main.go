// Readiness wizard session server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/readiness-wizard/internal/api"
	"github.com/ashureev/readiness-wizard/internal/backend"
	"github.com/ashureev/readiness-wizard/internal/config"
	"github.com/ashureev/readiness-wizard/internal/identity"
	"github.com/ashureev/readiness-wizard/internal/middleware"
	"github.com/ashureev/readiness-wizard/internal/session"
	"github.com/ashureev/readiness-wizard/internal/storage"
	"github.com/ashureev/readiness-wizard/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	assessments := backend.NewClient(cfg.AssessmentAPIURL, cfg.APITimeout, backend.WithLogger(logger))
	sessions := session.NewRegistry(cfg.Storage.SessionQuotaBytes, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions, assessments, api.Options{
		Storage: storage.Config{
			SessionStorageKey:  cfg.Storage.SessionStorageKey,
			LocalStorageKey:    cfg.Storage.LocalStorageKey,
			EncryptionEnabled:  cfg.Storage.EncryptionEnabled,
			EncryptionKey:      cfg.Storage.EncryptionKey,
			CompressionEnabled: cfg.Storage.CompressionEnabled,
			ExpirationHours:    cfg.Storage.ExpirationHours,
		},
		Debounce:       cfg.AutoSave.Debounce,
		SaveInterval:   cfg.AutoSave.Interval,
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDev:          cfg.IsDevelopment(),
		Logger:         logger,
	})
	sessionHandler := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, sessions)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Wizard routes need a device and a tab identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		sessionHandler.RegisterRoutes(r)
	})

	// Note: the session stream is a long-lived websocket, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartSweeper(ctx, sessions, session.SweeperConfig{
		IdleTTL:         cfg.SessionIdleTTL,
		Devices:         repo,
		DeviceRetention: cfg.DeviceRetention,
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Flush pending edits of every open tab before the database closes.
	sessions.CloseAll()

	slog.Info("Server stopped successfully")
}
