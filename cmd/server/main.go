package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hirenest-chat/internal/api"
	"hirenest-chat/internal/chat"
	"hirenest-chat/internal/config"
	"hirenest-chat/internal/db"
	"hirenest-chat/internal/gateway/sqlgw"
	"hirenest-chat/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.Log.Level, cfg.Log.Format).With("component", "server")

	if cfg.JWTSecret == "" {
		log.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	policy, err := chat.ParseThreadPolicy(cfg.Chat.ThreadPolicy)
	if err != nil {
		log.Error("invalid thread policy", "error", err)
		os.Exit(1)
	}

	// Ensure data directory exists
	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		log.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}

	// Initialize database
	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	// Run migrations
	schema := db.Schema{
		LegacyMessages: cfg.Schema.LegacyMessages,
		ThreadViews:    cfg.Schema.ThreadViews,
	}
	if err := database.Migrate(schema); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	log.Info("database migrated", "legacy_messages", schema.LegacyMessages, "thread_views", schema.ThreadViews)

	if cfg.SeedFile != "" {
		n, err := database.SeedProfiles(cfg.SeedFile)
		if err != nil {
			log.Warn("failed to seed profiles", "file", cfg.SeedFile, "error", err)
		} else {
			log.Info("profiles seeded", "count", n)
		}
	}

	gw := sqlgw.New(database, nil, log)

	router := api.NewRouter(gw, api.Options{
		JWTSecret:    cfg.JWTSecret,
		ThreadPolicy: policy,
		SendRPS:      cfg.Chat.SendRPS,
		Logger:       log,
	})

	// Setup server
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("server is shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error("server forced to shutdown", "error", err)
		}
		close(done)
	}()

	log.Info("server starting", "port", cfg.Port, "thread_policy", policy)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed to start", "error", err)
		os.Exit(1)
	}

	<-done
	log.Info("server stopped gracefully")
}
