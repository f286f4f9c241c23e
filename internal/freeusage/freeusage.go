// Package freeusage gates the free tier with an anonymous rolling-window
// counter. It is entirely client-local and deliberately client-trusted:
// the feature behind it is cheap, and keeping the counter anonymous was
// chosen over server-side enforcement. The paid-grant path is the one that
// is server-verified.
package freeusage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Store persists the usage timestamps between sessions.
type Store interface {
	Load() ([]time.Time, error)
	Save([]time.Time) error
}

// Gate counts free-tier completions in a sliding window. The window rolls
// relative to now; there is no calendar-day reset.
type Gate struct {
	mu     sync.Mutex
	quota  int
	window time.Duration
	now    func() time.Time
	store  Store
	stamps []time.Time
}

type Option func(*Gate)

// WithClock injects the time source, so tests can walk the window
// boundary deterministically.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithStore persists usage stamps across restarts.
func WithStore(s Store) Option {
	return func(g *Gate) { g.store = s }
}

func New(quota int, window time.Duration, opts ...Option) (*Gate, error) {
	if quota <= 0 {
		return nil, fmt.Errorf("freeusage: quota must be positive, got %d", quota)
	}
	if window <= 0 {
		return nil, fmt.Errorf("freeusage: window must be positive, got %v", window)
	}
	g := &Gate{
		quota:  quota,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store != nil {
		stamps, err := g.store.Load()
		if err != nil {
			return nil, fmt.Errorf("freeusage: load: %w", err)
		}
		sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
		g.stamps = stamps
	}
	return g, nil
}

// CanUse reports whether a free-tier use is available right now.
func (g *Gate) CanUse() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active()) < g.quota
}

// RecordUse appends a completion at the current time and prunes the ring
// to the last quota entries.
func (g *Gate) RecordUse() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stamps = append(g.active(), g.now())
	// Oldest-first eviction once over capacity.
	if len(g.stamps) > g.quota {
		g.stamps = g.stamps[len(g.stamps)-g.quota:]
	}
	if g.store != nil {
		if err := g.store.Save(g.stamps); err != nil {
			return fmt.Errorf("freeusage: save: %w", err)
		}
	}
	return nil
}

// UntilNextFree returns how long until the next free use unlocks: the time
// for the oldest in-window stamp to age out. Zero means a use is available
// now.
func (g *Gate) UntilNextFree() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	active := g.active()
	if len(active) < g.quota {
		return 0
	}
	return active[0].Add(g.window).Sub(g.now())
}

// active prunes lazily: stamps outside the trailing window are dropped on
// every read. Caller holds the lock.
func (g *Gate) active() []time.Time {
	cutoff := g.now().Add(-g.window)
	i := 0
	for i < len(g.stamps) && !g.stamps[i].After(cutoff) {
		i++
	}
	g.stamps = g.stamps[i:]
	return g.stamps
}

// FileStore persists stamps as JSON, standing in for the browser's local
// storage when the shell runs natively.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() ([]time.Time, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var stamps []time.Time
	if err := json.Unmarshal(data, &stamps); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return stamps, nil
}

func (s *FileStore) Save(stamps []time.Time) error {
	data, err := json.Marshal(stamps)
	if err != nil {
		return fmt.Errorf("marshal stamps: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
