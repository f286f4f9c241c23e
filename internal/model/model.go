package model

import "time"

// GrantType identifies what kind of access a grant confers.
type GrantType string

const (
	// GrantSubscription is recurring unlimited access. Its validity is
	// checked live against the payment processor, never by local expiry.
	GrantSubscription GrantType = "subscription"
	// GrantDayPass is unlimited access for 24 hours.
	GrantDayPass GrantType = "daypass"
	// GrantSingle is one extra reflection, valid for 24 hours.
	GrantSingle GrantType = "single"
)

// Valid reports whether t is a known grant type.
func (t GrantType) Valid() bool {
	switch t {
	case GrantSubscription, GrantDayPass, GrantSingle:
		return true
	}
	return false
}

type AccessGrant struct {
	ID               int64      `json:"id"`
	PaymentSessionID string     `json:"payment_session_id"`
	Type             GrantType  `json:"type"`
	CustomerID       *string    `json:"customer_id"`
	Code             *string    `json:"code"`
	EmailHash        *string    `json:"email_hash"`
	ExpiresAt        *time.Time `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Bound reports whether the grant already carries a recovery binding.
// A grant is bound by at most one of code or email hash.
func (g *AccessGrant) Bound() bool {
	return g.Code != nil || g.EmailHash != nil
}

// Cancellation marks a customer's subscription as no longer valid. It is a
// bounded-retention fast path; the live processor check remains the
// authority after ExpiresAt.
type Cancellation struct {
	ID          int64     `json:"id"`
	CustomerID  string    `json:"customer_id"`
	CancelledAt time.Time `json:"cancelled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Bridge is a short-lived record letting the client-confirm path skip a
// processor round-trip when the webhook already confirmed the session.
type Bridge struct {
	ID               int64     `json:"id"`
	PaymentSessionID string    `json:"payment_session_id"`
	GrantID          int64     `json:"grant_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}
