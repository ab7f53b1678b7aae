package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/seathold/internal/config"
	"github.com/efreitasn/seathold/internal/engine"
	"github.com/efreitasn/seathold/internal/handler"
	"github.com/efreitasn/seathold/internal/observability"
	"github.com/efreitasn/seathold/internal/queue"
	"github.com/efreitasn/seathold/internal/service"
	"github.com/efreitasn/seathold/internal/store"
	"github.com/efreitasn/seathold/internal/validator"
	"github.com/joho/godotenv"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Booking store. Without Redis every seat is treated as unbooked.
	var bookings store.BookingStore = store.NopBookingStore{}
	if cfg.RedisAddr != "" {
		client, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("booking store unavailable, booked-seat checks disabled",
				slog.String("error", err.Error()))
		} else {
			defer client.Close()
			bookings = store.NewRedisBookingStore(client)
			logger.Info("booking store connected", slog.String("addr", cfg.RedisAddr))
		}
	}

	validate := validator.NewValidator()

	// Hold table first; the hub is its notifier.
	hub := service.NewBroadcaster(logger)
	table := engine.NewHoldTable(cfg.HoldTTL, service.NewMetricsNotifier(hub))
	holdSvc := service.NewHoldService(table, hub, bookings, cfg.BookingLookupTimeout, logger)
	observability.RegisterActiveHolds(holdSvc.ActiveHolds)

	gateway := handler.NewGateway(holdSvc, hub, validate, handler.GatewayConfig{
		WriteWait:       cfg.WSWriteWait,
		PongWait:        cfg.WSPongWait,
		SendBuffer:      cfg.WSSendBuffer,
		MaxMessageBytes: int64(cfg.WSMaxMessageBytes),
	}, logger)
	router := handler.NewRouter(holdSvc, gateway, validate, logger)

	// Commit consumer.
	consumerDone := make(chan struct{})
	if cfg.AMQPURL != "" {
		consumer := queue.NewCommitConsumer(cfg.AMQPURL, cfg.CommitQueue, holdSvc, validate, logger)
		go func() {
			defer close(consumerDone)
			consumer.Run(ctx)
		}()
	} else {
		close(consumerDone)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.Duration("hold_ttl", cfg.HoldTTL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop accepting requests, stop the consumer, drain
	// every expiry timer, then hang up on realtime clients.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn("commit consumer did not stop in time")
	}

	dropped := table.Close()
	closed := hub.Close()
	logger.Info("server stopped",
		slog.Int("holds_dropped", dropped),
		slog.Int("connections_closed", closed),
	)
}
