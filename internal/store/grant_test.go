package store

import (
	"testing"
	"time"

	"github.com/jmarchant/reverie/internal/database"
	"github.com/jmarchant/reverie/internal/model"
)

func setupGrantTestDB(t *testing.T) *GrantStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewGrantStore(db)
}

func testGrant(sessionID string) *model.AccessGrant {
	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	return &model.AccessGrant{
		PaymentSessionID: sessionID,
		Type:             model.GrantDayPass,
		ExpiresAt:        &expiresAt,
	}
}

func TestGrantCreateIfAbsent(t *testing.T) {
	gs := setupGrantTestDB(t)

	g, err := gs.CreateIfAbsent(testGrant("cs_100"))
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}
	if g.PaymentSessionID != "cs_100" {
		t.Errorf("session id = %q, want cs_100", g.PaymentSessionID)
	}
	if g.Type != model.GrantDayPass {
		t.Errorf("type = %q, want daypass", g.Type)
	}
	if g.ExpiresAt == nil {
		t.Error("expected non-nil expires_at for daypass")
	}
}

func TestGrantCreateIfAbsentIsIdempotent(t *testing.T) {
	gs := setupGrantTestDB(t)

	first, err := gs.CreateIfAbsent(testGrant("cs_200"))
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}

	// Second insert with different content loses; stored record wins.
	dup := testGrant("cs_200")
	dup.Type = model.GrantSubscription
	dup.ExpiresAt = nil
	second, err := gs.CreateIfAbsent(dup)
	if err != nil {
		t.Fatalf("create duplicate grant: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate created new row: id %d vs %d", second.ID, first.ID)
	}
	if second.Type != first.Type {
		t.Errorf("type changed on duplicate insert: %q vs %q", second.Type, first.Type)
	}
}

func TestGrantGetBySessionIDNotFound(t *testing.T) {
	gs := setupGrantTestDB(t)

	g, err := gs.GetBySessionID("cs_missing")
	if err != nil {
		t.Fatalf("get by session: %v", err)
	}
	if g != nil {
		t.Error("expected nil for missing session")
	}
}

func TestGrantBindCode(t *testing.T) {
	gs := setupGrantTestDB(t)

	g, _ := gs.CreateIfAbsent(testGrant("cs_300"))

	bound, err := gs.BindCode(g.ID, "RV-AAAA-BBBB-CCCC")
	if err != nil {
		t.Fatalf("bind code: %v", err)
	}
	if !bound {
		t.Fatal("expected binding to succeed")
	}

	got, err := gs.GetByCode("RV-AAAA-BBBB-CCCC")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if got == nil || got.ID != g.ID {
		t.Fatal("expected to find grant by code")
	}
}

func TestGrantBindCodeCollision(t *testing.T) {
	gs := setupGrantTestDB(t)

	a, _ := gs.CreateIfAbsent(testGrant("cs_400"))
	b, _ := gs.CreateIfAbsent(testGrant("cs_401"))

	if _, err := gs.BindCode(a.ID, "RV-AAAA-BBBB-CCCC"); err != nil {
		t.Fatalf("bind first code: %v", err)
	}
	_, err := gs.BindCode(b.ID, "RV-AAAA-BBBB-CCCC")
	if err != ErrCodeTaken {
		t.Fatalf("expected ErrCodeTaken, got %v", err)
	}

	// The original binding survives the collision.
	got, _ := gs.GetByCode("RV-AAAA-BBBB-CCCC")
	if got == nil || got.ID != a.ID {
		t.Error("expected original code binding to be untouched")
	}
}

func TestGrantBindCodeOnBoundGrantIsNoop(t *testing.T) {
	gs := setupGrantTestDB(t)

	g, _ := gs.CreateIfAbsent(testGrant("cs_500"))
	if _, err := gs.BindCode(g.ID, "RV-AAAA-BBBB-CCCC"); err != nil {
		t.Fatalf("bind code: %v", err)
	}

	bound, err := gs.BindCode(g.ID, "RV-DDDD-EEEE-FFFF")
	if err != nil {
		t.Fatalf("rebind code: %v", err)
	}
	if bound {
		t.Error("expected rebind to be a no-op")
	}
	got, _ := gs.GetByID(g.ID)
	if got.Code == nil || *got.Code != "RV-AAAA-BBBB-CCCC" {
		t.Error("expected original code to survive")
	}
}

func TestGrantBindEmailHash(t *testing.T) {
	gs := setupGrantTestDB(t)

	g, _ := gs.CreateIfAbsent(testGrant("cs_600"))

	bound, err := gs.BindEmailHash(g.ID, "hash-abc")
	if err != nil {
		t.Fatalf("bind email hash: %v", err)
	}
	if !bound {
		t.Fatal("expected binding to succeed")
	}

	got, err := gs.GetByEmailHash("hash-abc")
	if err != nil {
		t.Fatalf("get by email hash: %v", err)
	}
	if got == nil || got.ID != g.ID {
		t.Fatal("expected to find grant by email hash")
	}

	// Code binding is rejected once the email binding exists.
	bound, err = gs.BindCode(g.ID, "RV-AAAA-BBBB-CCCC")
	if err != nil {
		t.Fatalf("bind code on email-bound grant: %v", err)
	}
	if bound {
		t.Error("expected code binding to be refused on bound grant")
	}
}

func TestGrantGetByEmailHashReturnsNewest(t *testing.T) {
	gs := setupGrantTestDB(t)

	old, _ := gs.CreateIfAbsent(testGrant("cs_700"))
	gs.BindEmailHash(old.ID, "hash-shared")

	newer := testGrant("cs_701")
	newer.Type = model.GrantSubscription
	newer.ExpiresAt = nil
	n, _ := gs.CreateIfAbsent(newer)
	gs.BindEmailHash(n.ID, "hash-shared")

	got, err := gs.GetByEmailHash("hash-shared")
	if err != nil {
		t.Fatalf("get by email hash: %v", err)
	}
	if got == nil || got.ID != n.ID {
		t.Errorf("expected newest grant, got id %v want %d", got, n.ID)
	}
}
