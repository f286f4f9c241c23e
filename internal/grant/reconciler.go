package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jmarchant/reverie/internal/model"
	"github.com/jmarchant/reverie/internal/payment"
	"github.com/jmarchant/reverie/internal/store"
)

var (
	// ErrPaymentPending means the processor has not marked the session
	// paid yet. The client retries with bounded polling; it is not a
	// failed payment.
	ErrPaymentPending = errors.New("payment not completed yet")
	// ErrVerifyUnavailable means the processor could not be reached
	// within the retry budget. The payment may still be valid.
	ErrVerifyUnavailable = errors.New("could not verify payment")
)

// Provider is the slice of the payment processor the reconciler and
// resolver depend on.
type Provider interface {
	CheckoutSession(ctx context.Context, sessionID string) (*payment.Session, error)
	HasActiveSubscription(ctx context.Context, customerID string) (bool, error)
}

// Reconciler accepts confirmation signals from the client-confirm path and
// the webhook path and drives the Issuer. It holds no locks and assumes
// at-least-once, out-of-order delivery from both channels; the Issuer's
// idempotency is the sole convergence mechanism.
type Reconciler struct {
	provider        Provider
	issuer          *Issuer
	grants          *store.GrantStore
	bridge          *store.BridgeStore
	cancels         *store.CancellationStore
	bridgeTTL       time.Duration
	cancelRetention time.Duration
	retryAttempts   uint64
	retryDelay      time.Duration
	logger          *slog.Logger
}

type ReconcilerConfig struct {
	// BridgeTTL bounds the webhook-written bridging record.
	BridgeTTL time.Duration
	// CancelRetention bounds the cancellation side-record.
	CancelRetention time.Duration
	// RetryAttempts and RetryDelay bound transient-error retries against
	// the processor on the confirm path.
	RetryAttempts uint64
	RetryDelay    time.Duration
}

func NewReconciler(
	provider Provider,
	issuer *Issuer,
	grants *store.GrantStore,
	bridge *store.BridgeStore,
	cancels *store.CancellationStore,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	if cfg.BridgeTTL == 0 {
		cfg.BridgeTTL = time.Hour
	}
	if cfg.CancelRetention == 0 {
		cfg.CancelRetention = 7 * 24 * time.Hour
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Reconciler{
		provider:        provider,
		issuer:          issuer,
		grants:          grants,
		bridge:          bridge,
		cancels:         cancels,
		bridgeTTL:       cfg.BridgeTTL,
		cancelRetention: cfg.CancelRetention,
		retryAttempts:   cfg.RetryAttempts,
		retryDelay:      cfg.RetryDelay,
		logger:          logger,
	}
}

// ConfirmPayment drives the client-confirm path for a session. It is
// idempotent and safe to call any number of times, concurrently with the
// webhook path. Local store reads are shortcuts only; when they miss or
// fail, the processor is the source of truth for whether the payment
// happened.
func (r *Reconciler) ConfirmPayment(ctx context.Context, sessionID string) (*model.AccessGrant, error) {
	// Webhook may have landed first; its bridge record saves a round-trip.
	if b, err := r.bridge.Get(sessionID); err != nil {
		r.logger.Warn("bridge lookup failed", "error", err)
	} else if b != nil {
		g, err := r.grants.GetByID(b.GrantID)
		if err != nil {
			r.logger.Warn("grant lookup via bridge failed", "error", err)
		} else if g != nil {
			return g, nil
		}
	}

	if g, err := r.grants.GetBySessionID(sessionID); err != nil {
		r.logger.Warn("grant lookup failed", "error", err)
	} else if g != nil {
		return g, nil
	}

	var sess *payment.Session
	backoff := retry.WithMaxRetries(r.retryAttempts, retry.NewConstant(r.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := r.provider.CheckoutSession(ctx, sessionID)
		if err != nil {
			return retry.RetryableError(err)
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	if !sess.Paid {
		return nil, ErrPaymentPending
	}

	g, err := r.issuer.CreateOrGet(sessionID, sess.Type, sess.CustomerID, "")
	if err != nil {
		return nil, err
	}
	if err := r.bridge.Put(sessionID, g.ID, r.bridgeTTL); err != nil {
		r.logger.Warn("bridge write failed", "error", err)
	}
	return g, nil
}

// VerifySession is a read-only probe for lightweight polling. It reports
// whether the session is paid without issuing a grant.
func (r *Reconciler) VerifySession(ctx context.Context, sessionID string) (bool, model.GrantType, error) {
	if g, err := r.grants.GetBySessionID(sessionID); err != nil {
		r.logger.Warn("grant lookup failed", "error", err)
	} else if g != nil {
		return true, g.Type, nil
	}

	sess, err := r.provider.CheckoutSession(ctx, sessionID)
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	if !sess.Paid {
		return false, "", nil
	}
	return true, sess.Type, nil
}

// ApplyCheckoutCompleted drives the webhook path. The signed event is
// itself proof of payment, so no processor re-query is made. A bridging
// record lets a concurrently-polling client shortcut to the grant.
func (r *Reconciler) ApplyCheckoutCompleted(sess *payment.Session) (*model.AccessGrant, error) {
	g, err := r.issuer.CreateOrGet(sess.ID, sess.Type, sess.CustomerID, "")
	if err != nil {
		return nil, err
	}
	if err := r.bridge.Put(sess.ID, g.ID, r.bridgeTTL); err != nil {
		r.logger.Warn("bridge write failed", "error", err)
	}
	return g, nil
}

// ApplySubscriptionCancelled records the cancellation side-record for the
// customer. It transitions no grant state directly; the resolver consults
// the record on recovery.
func (r *Reconciler) ApplySubscriptionCancelled(customerID string) error {
	if customerID == "" {
		return fmt.Errorf("cancellation event missing customer id")
	}
	return r.cancels.Upsert(customerID, r.cancelRetention)
}
