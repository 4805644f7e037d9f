package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"invoicing-backend/internal/config"
	"invoicing-backend/internal/database"
	"invoicing-backend/internal/handlers"
	"invoicing-backend/internal/logging"
	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/repository"
	"invoicing-backend/internal/router"
	"invoicing-backend/internal/services"
	"invoicing-backend/internal/websocket"
	"invoicing-backend/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.Env)
	log.Info().Str("env", cfg.Env).Str("time_zone", cfg.Location().String()).Msg("starting invoicing backend")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info().Msg("postgres connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClients.Close()
	log.Info().Msg("redis connected")

	// ──── Step 4: Run Database Migrations ────
	if _, err := database.RunMigrations(pool, cfg.MigrationsDir); err != nil {
		return err
	}
	log.Info().Msg("database migrations applied")

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	invoiceRepo := repository.NewInvoiceRepo(pool)
	trackingRepo := repository.NewTrackingRepo(pool)

	// ──── Initialize Services ────
	revoker := services.NewTokenRevoker(redisClients.Events)
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret, cfg.AccessTokenTTL, revoker)
	eventPool := worker.NewPool(services.NewRedisPublisher(redisClients.Events), cfg.EventWorkers, cfg.EventQueueSize)
	eventPool.Start()

	authService := services.NewAuthService(userRepo, jwtAuth, revoker)
	invoiceService := services.NewInvoiceService(invoiceRepo, nil, cfg.Location())
	trackingService := services.NewTrackingService(trackingRepo, nil, cfg.Location(), eventPool)

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService)
	invoiceHandler := handlers.NewInvoiceHandler(invoiceService)
	trackingHandler := handlers.NewTrackingHandler(trackingService)

	// ──── Step 5: Start Session Sweeper ────
	sweeper := worker.NewSweeper(trackingService, cfg.SweepInterval)
	sweeper.Start()

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, cfg.FrontendURL)
	log.Info().Msg("websocket hub started")

	// ──── Step 7: Start HTTP Server ────
	stopLimiters := make(chan struct{})
	limits := router.Limits{
		Auth:     middleware.NewRateLimiter(10.0/60.0, 10, 10*time.Minute),
		Tracking: middleware.NewRateLimiter(cfg.TrackingRatePerSec, cfg.TrackingBurst, 10*time.Minute),
	}
	go limits.Auth.Cleanup(stopLimiters)
	go limits.Tracking.Cleanup(stopLimiters)

	r := router.New(
		jwtAuth,
		authHandler,
		invoiceHandler,
		trackingHandler,
		wsHub.HandleWebSocket,
		limits,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")
		sweeper.Stop()
		close(stopLimiters)
		wsHub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
		eventPool.Stop()
	}()

	log.Info().Str("addr", server.Addr).Msg("http server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	<-shutdownDone
	return nil
}
