package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmarchant/reverie/internal/emailhash"
	"github.com/jmarchant/reverie/internal/enttoken"
	"github.com/jmarchant/reverie/internal/grant"
	"github.com/jmarchant/reverie/internal/handler"
	"github.com/jmarchant/reverie/internal/middleware"
	"github.com/jmarchant/reverie/internal/payment"
	"github.com/jmarchant/reverie/internal/store"
)

type Server struct {
	db            *sql.DB
	grantStore    *store.GrantStore
	bridgeStore   *store.BridgeStore
	cancelStore   *store.CancellationStore
	issuer        *grant.Issuer
	reconciler    *grant.Reconciler
	resolver      *grant.Resolver
	confirmH      *handler.ConfirmHandler
	accessH       *handler.AccessHandler
	webhookH      *handler.WebhookHandler
	checkoutH     *handler.CheckoutHandler
	paymentClient *payment.Client
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

type Config struct {
	Payment         payment.Config
	EmailHashSecret string
	TokenSecret     string
	BridgeTTL       time.Duration
	CancelRetention time.Duration
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) (*Server, error) {
	grantStore := store.NewGrantStore(db)
	bridgeStore := store.NewBridgeStore(db)
	cancelStore := store.NewCancellationStore(db)

	hasher, err := emailhash.New(cfg.EmailHashSecret)
	if err != nil {
		return nil, fmt.Errorf("email hasher: %w", err)
	}
	signer := enttoken.NewSigner(cfg.TokenSecret)

	paymentClient := payment.NewClient(cfg.Payment)

	issuer := grant.NewIssuer(grantStore, hasher)
	reconciler := grant.NewReconciler(paymentClient, issuer, grantStore, bridgeStore, cancelStore, grant.ReconcilerConfig{
		BridgeTTL:       cfg.BridgeTTL,
		CancelRetention: cfg.CancelRetention,
	}, logger.With("component", "reconciler"))
	resolver := grant.NewResolver(grantStore, cancelStore, paymentClient, hasher, logger.With("component", "resolver"))

	return &Server{
		db:            db,
		grantStore:    grantStore,
		bridgeStore:   bridgeStore,
		cancelStore:   cancelStore,
		issuer:        issuer,
		reconciler:    reconciler,
		resolver:      resolver,
		confirmH:      handler.NewConfirmHandler(reconciler, signer, logger.With("component", "confirm")),
		accessH:       handler.NewAccessHandler(issuer, resolver, signer, logger.With("component", "access")),
		webhookH:      handler.NewWebhookHandler(paymentClient, reconciler, logger.With("component", "webhook")),
		checkoutH:     handler.NewCheckoutHandler(paymentClient, grantStore, hasher, logger.With("component", "checkout")),
		paymentClient: paymentClient,
		rateLimiter:   middleware.NewRateLimiter(),
		logger:        logger,
	}, nil
}

// BridgeStore returns the bridge store for cleanup tasks.
func (s *Server) BridgeStore() *store.BridgeStore {
	return s.bridgeStore
}

// CancellationStore returns the cancellation store for cleanup tasks.
func (s *Server) CancellationStore() *store.CancellationStore {
	return s.cancelStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Stripe webhook (public, signature-verified, no rate limit: the
	// processor's redelivery must never be throttled)
	mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)

	mux.Handle("POST /api/payment/confirm", s.rateLimited(s.confirmH.Confirm, 30))
	mux.HandleFunc("GET /api/payment/verify", s.confirmH.Verify)

	mux.Handle("POST /api/access/save", s.rateLimited(s.accessH.Save, 10))
	mux.Handle("POST /api/access/recover", s.rateLimited(s.accessH.Recover, 10))

	mux.Handle("POST /api/checkout", s.rateLimited(s.checkoutH.CreateCheckoutSession, 10))
	mux.Handle("POST /api/billing-portal", s.rateLimited(s.checkoutH.BillingPortal, 10))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) rateLimited(h http.HandlerFunc, perMinute int) http.Handler {
	mw := middleware.RateLimit(s.rateLimiter, middleware.RealIP, perMinute, time.Minute)
	return mw(http.HandlerFunc(h))
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
