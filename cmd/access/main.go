package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmarchant/reverie/internal/config"
	"github.com/jmarchant/reverie/internal/database"
	"github.com/jmarchant/reverie/internal/logging"
	"github.com/jmarchant/reverie/internal/payment"
	"github.com/jmarchant/reverie/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv, err := server.New(db, server.Config{
		Payment: payment.Config{
			SecretKey:           cfg.StripeSecretKey,
			WebhookSecret:       cfg.StripeWebhookSecret,
			SubscriptionPriceID: cfg.SubscriptionPriceID,
			DayPassPriceID:      cfg.DayPassPriceID,
			SinglePriceID:       cfg.SinglePriceID,
			SuccessURL:          cfg.BaseURL + "/paid?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:           cfg.BaseURL + "/pricing",
		},
		EmailHashSecret: cfg.EmailHashSecret,
		TokenSecret:     cfg.TokenSecret,
		BridgeTTL:       cfg.BridgeTTL,
		CancelRetention: cfg.CancelRetention,
	}, logger)
	if err != nil {
		slog.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.BridgeStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired bridges", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired bridges", "count", n)
				}
				if n, err := srv.CancellationStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired cancellations", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired cancellations", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("access service starting", "addr", ":"+cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
