package grant

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmarchant/reverie/internal/model"
)

func setupResolverTest(t *testing.T) (*testEnv, *fakeProvider, *Resolver) {
	t.Helper()
	env := setupIssuerTest(t)
	provider := newFakeProvider()
	res := NewResolver(env.grants, env.cancels, provider, env.hasher, discardLogger())
	return env, provider, res
}

func TestResolveCodeRoundTrip(t *testing.T) {
	env, _, res := setupResolverTest(t)
	env.issuer.CreateOrGet("cs_r1", model.GrantDayPass, "", "")
	code, err := env.issuer.BindCode("cs_r1")
	if err != nil {
		t.Fatalf("bind code: %v", err)
	}

	r, err := res.ResolveCode(context.Background(), code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Status != StatusActive {
		t.Fatalf("status = %q, want active", r.Status)
	}
	if r.Grant.Type != model.GrantDayPass {
		t.Errorf("type = %q, want daypass", r.Grant.Type)
	}

	// Sloppy user input still resolves.
	sloppy := "  " + strings.ToLower(strings.ReplaceAll(code, "-", " ")) + " "
	r2, err := res.ResolveCode(context.Background(), sloppy)
	if err != nil {
		t.Fatalf("resolve sloppy: %v", err)
	}
	if r2.Status != StatusActive {
		t.Errorf("sloppy input status = %q, want active", r2.Status)
	}
}

func TestResolveCodeNotFound(t *testing.T) {
	_, _, res := setupResolverTest(t)

	r, err := res.ResolveCode(context.Background(), "RV-AAAA-BBBB-CCCC")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Status != StatusNotFound {
		t.Errorf("status = %q, want not_found", r.Status)
	}

	// Malformed input is an ordinary not-found, not an error.
	r, err = res.ResolveCode(context.Background(), "garbage")
	if err != nil {
		t.Fatalf("resolve malformed: %v", err)
	}
	if r.Status != StatusNotFound {
		t.Errorf("malformed status = %q, want not_found", r.Status)
	}
}

func TestResolveEmailRoundTrip(t *testing.T) {
	env, provider, res := setupResolverTest(t)
	provider.activeSubs["cus_r2"] = true
	env.issuer.CreateOrGet("cs_r2", model.GrantSubscription, "cus_r2", "")
	if err := env.issuer.BindEmail("cs_r2", "user@example.com"); err != nil {
		t.Fatalf("bind email: %v", err)
	}

	// Case and whitespace variants resolve to the same grant.
	for _, email := range []string{"user@example.com", "User@Example.com "} {
		r, err := res.ResolveEmail(context.Background(), email)
		if err != nil {
			t.Fatalf("resolve %q: %v", email, err)
		}
		if r.Status != StatusActive {
			t.Errorf("%q: status = %q, want active", email, r.Status)
		}
		if r.Grant.Type != model.GrantSubscription {
			t.Errorf("%q: type = %q, want subscription", email, r.Grant.Type)
		}
	}
}

func TestResolveTimedGrantExpiry(t *testing.T) {
	env, _, res := setupResolverTest(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.issuer.now = func() time.Time { return created }
	env.issuer.CreateOrGet("cs_r3", model.GrantDayPass, "", "")
	code, _ := env.issuer.BindCode("cs_r3")

	// Just inside the window: valid, with the remaining time reported.
	res.now = func() time.Time { return created.Add(23*time.Hour + 59*time.Minute) }
	r, err := res.ResolveCode(context.Background(), code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Status != StatusActive {
		t.Fatalf("status at T+23h59m = %q, want active", r.Status)
	}
	if r.Remaining <= 0 || r.Remaining > time.Minute {
		t.Errorf("remaining = %v, want (0, 1m]", r.Remaining)
	}

	// Just past the window: expired, distinct from never existed.
	res.now = func() time.Time { return created.Add(24*time.Hour + time.Minute) }
	r, err = res.ResolveCode(context.Background(), code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Status != StatusExpired {
		t.Errorf("status at T+24h01m = %q, want expired", r.Status)
	}
}

func TestResolveSubscriptionUsesCancellationFastPath(t *testing.T) {
	env, provider, res := setupResolverTest(t)
	provider.activeSubs["cus_r4"] = true
	env.issuer.CreateOrGet("cs_r4", model.GrantSubscription, "cus_r4", "")
	code, _ := env.issuer.BindCode("cs_r4")

	if err := env.cancels.Upsert("cus_r4", 7*24*time.Hour); err != nil {
		t.Fatalf("record cancellation: %v", err)
	}

	r, err := res.ResolveCode(context.Background(), code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Status != StatusInactive {
		t.Errorf("status = %q, want no_longer_active", r.Status)
	}
	if provider.subCalls != 0 {
		t.Errorf("fast path still made %d live calls", provider.subCalls)
	}
}

func TestResolveSubscriptionLiveFallback(t *testing.T) {
	env, provider, res := setupResolverTest(t)
	env.issuer.CreateOrGet("cs_r5", model.GrantSubscription, "cus_r5", "")
	code, _ := env.issuer.BindCode("cs_r5")

	// Side-record is silent; the live check is the authority.
	r, err := res.ResolveCode(context.Background(), code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Status != StatusInactive {
		t.Errorf("status with no active subscription = %q, want no_longer_active", r.Status)
	}

	provider.mu.Lock()
	provider.activeSubs["cus_r5"] = true
	provider.mu.Unlock()

	r, err = res.ResolveCode(context.Background(), code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Status != StatusActive {
		t.Errorf("status with active subscription = %q, want active", r.Status)
	}
}

func TestResolveSubscriptionStaleCancellationRecord(t *testing.T) {
	env, provider, res := setupResolverTest(t)
	provider.activeSubs["cus_r6"] = true
	env.issuer.CreateOrGet("cs_r6", model.GrantSubscription, "cus_r6", "")
	code, _ := env.issuer.BindCode("cs_r6")

	// A lapsed side-record no longer short-circuits; the live check wins.
	if err := env.cancels.Upsert("cus_r6", -time.Hour); err != nil {
		t.Fatalf("record cancellation: %v", err)
	}

	r, err := res.ResolveCode(context.Background(), code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Status != StatusActive {
		t.Errorf("status = %q, want active after retention lapsed", r.Status)
	}
	if provider.subCalls == 0 {
		t.Error("expected a live check once the side-record lapsed")
	}
}

func TestResolveSubscriptionProviderError(t *testing.T) {
	env, provider, res := setupResolverTest(t)
	env.issuer.CreateOrGet("cs_r7", model.GrantSubscription, "cus_r7", "")
	code, _ := env.issuer.BindCode("cs_r7")

	provider.failuresLeft = 1
	if _, err := res.ResolveCode(context.Background(), code); err == nil {
		t.Error("expected transient error to propagate, not masquerade as a status")
	}
}
