package grant

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmarchant/reverie/internal/accesscode"
	"github.com/jmarchant/reverie/internal/emailhash"
	"github.com/jmarchant/reverie/internal/model"
	"github.com/jmarchant/reverie/internal/store"
)

// Status is the business outcome of a recovery lookup. These are ordinary
// values, not errors; only infrastructure faults surface as errors.
type Status string

const (
	// StatusActive means the grant exists and is currently valid.
	StatusActive Status = "active"
	// StatusNotFound means no grant matches the code or email.
	StatusNotFound Status = "not_found"
	// StatusExpired means a daypass/single grant exists but its window
	// has passed.
	StatusExpired Status = "expired"
	// StatusInactive means a subscription grant exists but the
	// subscription is cancelled or gone at the processor.
	StatusInactive Status = "no_longer_active"
)

// Resolution is the result of a recovery lookup. Remaining is the validity
// window left on a timed grant, for display only; it is never extended.
type Resolution struct {
	Status    Status
	Grant     *model.AccessGrant
	Remaining time.Duration
}

// Resolver reconstructs an entitlement from nothing but a code or an
// email, for device-to-device and session-to-session continuity.
type Resolver struct {
	grants   *store.GrantStore
	cancels  *store.CancellationStore
	provider Provider
	hasher   *emailhash.Hasher
	logger   *slog.Logger
	now      func() time.Time
}

func NewResolver(
	grants *store.GrantStore,
	cancels *store.CancellationStore,
	provider Provider,
	hasher *emailhash.Hasher,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		grants:   grants,
		cancels:  cancels,
		provider: provider,
		hasher:   hasher,
		logger:   logger,
		now:      time.Now,
	}
}

// ResolveCode looks up an entitlement by access code.
func (r *Resolver) ResolveCode(ctx context.Context, input string) (Resolution, error) {
	code := accesscode.Normalize(input)
	if code == "" {
		return Resolution{Status: StatusNotFound}, nil
	}
	g, err := r.grants.GetByCode(code)
	if err != nil {
		return Resolution{}, err
	}
	return r.evaluate(ctx, g)
}

// ResolveEmail looks up an entitlement by email. Lookup is
// case-insensitive and whitespace-trimmed via the hash normalization.
func (r *Resolver) ResolveEmail(ctx context.Context, email string) (Resolution, error) {
	h, err := r.hasher.Hash(email)
	if err != nil {
		return Resolution{}, err
	}
	g, err := r.grants.GetByEmailHash(h)
	if err != nil {
		return Resolution{}, err
	}
	return r.evaluate(ctx, g)
}

func (r *Resolver) evaluate(ctx context.Context, g *model.AccessGrant) (Resolution, error) {
	if g == nil {
		return Resolution{Status: StatusNotFound}, nil
	}

	if g.Type == model.GrantSubscription {
		return r.evaluateSubscription(ctx, g)
	}

	// Local expiry is authoritative for timed grants.
	if g.ExpiresAt == nil {
		return Resolution{Status: StatusExpired, Grant: g}, nil
	}
	remaining := g.ExpiresAt.Sub(r.now().UTC())
	if remaining <= 0 {
		return Resolution{Status: StatusExpired, Grant: g}, nil
	}
	return Resolution{Status: StatusActive, Grant: g, Remaining: remaining}, nil
}

func (r *Resolver) evaluateSubscription(ctx context.Context, g *model.AccessGrant) (Resolution, error) {
	if g.CustomerID == nil {
		// No customer to check against; cannot be validated.
		return Resolution{Status: StatusInactive, Grant: g}, nil
	}

	// Fast path: a fresh cancellation record settles it without a live
	// call. A store failure here only costs us the shortcut.
	if c, err := r.cancels.Get(*g.CustomerID); err != nil {
		r.logger.Warn("cancellation lookup failed", "error", err)
	} else if c != nil {
		return Resolution{Status: StatusInactive, Grant: g}, nil
	}

	active, err := r.provider.HasActiveSubscription(ctx, *g.CustomerID)
	if err != nil {
		return Resolution{}, err
	}
	if !active {
		return Resolution{Status: StatusInactive, Grant: g}, nil
	}
	return Resolution{Status: StatusActive, Grant: g}, nil
}
