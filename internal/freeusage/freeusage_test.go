package freeusage

import (
	"path/filepath"
	"testing"
	"time"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestGateAllowsUpToQuota(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g, err := New(2, 24*time.Hour, WithClock(fixedClock(&now)))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	if !g.CanUse() {
		t.Fatal("fresh gate should allow use")
	}
	g.RecordUse()
	if !g.CanUse() {
		t.Fatal("one use of two should still allow")
	}
	g.RecordUse()
	if g.CanUse() {
		t.Fatal("quota exhausted, should deny")
	}
}

func TestGateRollingWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start
	g, err := New(2, 24*time.Hour, WithClock(fixedClock(&now)))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	// Uses at t=0 and t=1h fill the quota.
	g.RecordUse()
	now = start.Add(time.Hour)
	g.RecordUse()

	// At t=2h both stamps are in the window: denied, and the oldest
	// stamp unlocks in ~22h (sliding window, not a daily reset).
	now = start.Add(2 * time.Hour)
	if g.CanUse() {
		t.Error("expected denial at t=2h")
	}
	if got, want := g.UntilNextFree(), 22*time.Hour; got != want {
		t.Errorf("UntilNextFree at t=2h = %v, want %v", got, want)
	}

	// At t=24h30m the t=0 stamp has aged out.
	now = start.Add(24*time.Hour + 30*time.Minute)
	if !g.CanUse() {
		t.Error("expected availability at t=24h30m")
	}
	if got := g.UntilNextFree(); got != 0 {
		t.Errorf("UntilNextFree when available = %v, want 0", got)
	}

	// A third use re-fills the quota with t=1h and t=24h30m.
	g.RecordUse()
	if g.CanUse() {
		t.Error("expected denial after third use")
	}
}

func TestGateEvictsOldestOverCapacity(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start
	g, err := New(2, 24*time.Hour, WithClock(fixedClock(&now)))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	for i := 0; i < 5; i++ {
		now = start.Add(time.Duration(i) * time.Minute)
		g.RecordUse()
	}
	if len(g.stamps) != 2 {
		t.Errorf("ring holds %d stamps, want 2", len(g.stamps))
	}
	if !g.stamps[0].Equal(start.Add(3 * time.Minute)) {
		t.Errorf("oldest kept stamp = %v, want t=3m", g.stamps[0])
	}
}

func TestGateRejectsBadConfig(t *testing.T) {
	if _, err := New(0, 24*time.Hour); err == nil {
		t.Error("expected error for zero quota")
	}
	if _, err := New(2, 0); err == nil {
		t.Error("expected error for zero window")
	}
}

func TestFileStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start

	g, err := New(2, 24*time.Hour, WithClock(fixedClock(&now)), WithStore(NewFileStore(path)))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	g.RecordUse()
	now = start.Add(time.Hour)
	g.RecordUse()

	// A fresh gate over the same file sees the exhausted quota.
	now = start.Add(2 * time.Hour)
	g2, err := New(2, 24*time.Hour, WithClock(fixedClock(&now)), WithStore(NewFileStore(path)))
	if err != nil {
		t.Fatalf("reopen gate: %v", err)
	}
	if g2.CanUse() {
		t.Error("expected persisted stamps to deny use")
	}
	if got, want := g2.UntilNextFree(), 22*time.Hour; got != want {
		t.Errorf("UntilNextFree = %v, want %v", got, want)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	g, err := New(2, 24*time.Hour, WithStore(NewFileStore(path)))
	if err != nil {
		t.Fatalf("new gate over missing file: %v", err)
	}
	if !g.CanUse() {
		t.Error("expected empty gate to allow use")
	}
}
