package store

import (
	"testing"
	"time"

	"github.com/jmarchant/reverie/internal/database"
)

func setupBridgeTestDB(t *testing.T) (*BridgeStore, *GrantStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBridgeStore(db), NewGrantStore(db)
}

func TestBridgePutGet(t *testing.T) {
	bs, gs := setupBridgeTestDB(t)
	g, _ := gs.CreateIfAbsent(testGrant("cs_b1"))

	if err := bs.Put("cs_b1", g.ID, time.Hour); err != nil {
		t.Fatalf("put bridge: %v", err)
	}

	b, err := bs.Get("cs_b1")
	if err != nil {
		t.Fatalf("get bridge: %v", err)
	}
	if b == nil {
		t.Fatal("expected bridge record")
	}
	if b.GrantID != g.ID {
		t.Errorf("grant id = %d, want %d", b.GrantID, g.ID)
	}
}

func TestBridgePutIsUpsert(t *testing.T) {
	bs, gs := setupBridgeTestDB(t)
	g, _ := gs.CreateIfAbsent(testGrant("cs_b2"))

	if err := bs.Put("cs_b2", g.ID, time.Hour); err != nil {
		t.Fatalf("put bridge: %v", err)
	}
	// Duplicate webhook delivery rewrites identical content.
	if err := bs.Put("cs_b2", g.ID, time.Hour); err != nil {
		t.Fatalf("re-put bridge: %v", err)
	}

	b, err := bs.Get("cs_b2")
	if err != nil {
		t.Fatalf("get bridge: %v", err)
	}
	if b == nil || b.GrantID != g.ID {
		t.Fatal("expected bridge record to survive upsert")
	}
}

func TestBridgeGetExpired(t *testing.T) {
	bs, gs := setupBridgeTestDB(t)
	g, _ := gs.CreateIfAbsent(testGrant("cs_b3"))

	if err := bs.Put("cs_b3", g.ID, -time.Minute); err != nil {
		t.Fatalf("put bridge: %v", err)
	}

	b, err := bs.Get("cs_b3")
	if err != nil {
		t.Fatalf("get bridge: %v", err)
	}
	if b != nil {
		t.Error("expected nil for expired bridge")
	}
}

func TestBridgeDeleteExpired(t *testing.T) {
	bs, gs := setupBridgeTestDB(t)
	live, _ := gs.CreateIfAbsent(testGrant("cs_b4"))
	dead, _ := gs.CreateIfAbsent(testGrant("cs_b5"))

	bs.Put("cs_b4", live.ID, time.Hour)
	bs.Put("cs_b5", dead.ID, -time.Minute)

	n, err := bs.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d records, want 1", n)
	}

	if b, _ := bs.Get("cs_b4"); b == nil {
		t.Error("expected live bridge to survive cleanup")
	}
}
