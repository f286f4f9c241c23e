// Package grant implements access-grant issuance, payment reconciliation,
// and recovery. Correctness under the webhook/client-confirm race rests
// entirely on the Issuer's idempotency: every path funnels into
// CreateOrGet, which produces exactly one grant per payment session.
package grant

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmarchant/reverie/internal/accesscode"
	"github.com/jmarchant/reverie/internal/emailhash"
	"github.com/jmarchant/reverie/internal/model"
	"github.com/jmarchant/reverie/internal/store"
)

var (
	// ErrNoGrant means no grant exists for the session; the payment must
	// be confirmed before a binding can be saved.
	ErrNoGrant = errors.New("no grant for session")
	// ErrAlreadyBound means the grant is already reachable by the other
	// binding method. A grant carries at most one of code or email hash.
	ErrAlreadyBound = errors.New("grant already bound")
)

// passDuration is how long daypass and single grants stay valid.
const passDuration = 24 * time.Hour

// maxCodeAttempts bounds code regeneration on collision.
const maxCodeAttempts = 5

type Issuer struct {
	grants *store.GrantStore
	hasher *emailhash.Hasher
	now    func() time.Time
}

func NewIssuer(grants *store.GrantStore, hasher *emailhash.Hasher) *Issuer {
	return &Issuer{grants: grants, hasher: hasher, now: time.Now}
}

// CreateOrGet returns the grant for the payment session, creating it if
// absent. Duplicate and concurrent calls for the same session converge on
// the identical record. An email, when supplied by the calling flow, is
// hash-bound at creation; otherwise the grant stays unbound until the user
// saves a recovery method.
func (i *Issuer) CreateOrGet(sessionID string, typ model.GrantType, customerID, email string) (*model.AccessGrant, error) {
	existing, err := i.grants.GetBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if !typ.Valid() {
		return nil, fmt.Errorf("unknown grant type %q", typ)
	}

	g := &model.AccessGrant{
		PaymentSessionID: sessionID,
		Type:             typ,
	}
	if customerID != "" {
		g.CustomerID = &customerID
	}
	// Subscriptions are validity-checked live, never by local expiry.
	if typ != model.GrantSubscription {
		expiresAt := i.now().UTC().Add(passDuration)
		g.ExpiresAt = &expiresAt
	}
	if email != "" {
		h, err := i.hasher.Hash(email)
		if err != nil {
			return nil, err
		}
		g.EmailHash = &h
	}

	return i.grants.CreateIfAbsent(g)
}

// BindCode attaches a fresh code to the session's grant and returns it.
// Re-saving returns the existing code unchanged. Collisions are
// regenerated, never overwritten.
func (i *Issuer) BindCode(sessionID string) (string, error) {
	g, err := i.grants.GetBySessionID(sessionID)
	if err != nil {
		return "", err
	}
	if g == nil {
		return "", ErrNoGrant
	}
	if g.Code != nil {
		return *g.Code, nil
	}
	if g.EmailHash != nil {
		return "", ErrAlreadyBound
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := accesscode.Generate()
		if err != nil {
			return "", err
		}
		bound, err := i.grants.BindCode(g.ID, code)
		if errors.Is(err, store.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return "", err
		}
		if bound {
			return code, nil
		}
		// Lost a race with a concurrent save; use whatever won.
		g, err = i.grants.GetByID(g.ID)
		if err != nil {
			return "", err
		}
		if g == nil {
			return "", ErrNoGrant
		}
		if g.Code != nil {
			return *g.Code, nil
		}
		return "", ErrAlreadyBound
	}
	return "", fmt.Errorf("bind code: exhausted %d attempts", maxCodeAttempts)
}

// BindEmail attaches the hashed email to the session's grant. Re-saving
// the same email is a no-op; a grant already bound by code rejects it.
func (i *Issuer) BindEmail(sessionID, email string) error {
	g, err := i.grants.GetBySessionID(sessionID)
	if err != nil {
		return err
	}
	if g == nil {
		return ErrNoGrant
	}

	h, err := i.hasher.Hash(email)
	if err != nil {
		return err
	}
	if g.EmailHash != nil {
		if *g.EmailHash == h {
			return nil
		}
		return ErrAlreadyBound
	}
	if g.Code != nil {
		return ErrAlreadyBound
	}

	bound, err := i.grants.BindEmailHash(g.ID, h)
	if err != nil {
		return err
	}
	if !bound {
		// Lost a race with a concurrent save.
		g, err = i.grants.GetByID(g.ID)
		if err != nil {
			return err
		}
		if g != nil && g.EmailHash != nil && *g.EmailHash == h {
			return nil
		}
		return ErrAlreadyBound
	}
	return nil
}
