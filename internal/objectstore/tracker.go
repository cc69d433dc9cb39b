package objectstore

import (
	"context"
	"log/slog"
	"sync"
)

// Tracker remembers every path uploaded for one job so a failed or cancelled
// job can remove what it already published.
type Tracker struct {
	store  Store
	prefix string

	mu    sync.Mutex
	paths []string
}

// NewTracker scopes uploads under prefix (typically the record id).
func NewTracker(store Store, prefix string) *Tracker {
	return &Tracker{store: store, prefix: prefix}
}

// Put uploads data at prefix/rel and returns its public URL.
func (t *Tracker) Put(ctx context.Context, rel string, data []byte, contentType string) (string, error) {
	p := Join(t.prefix, rel)
	url, err := t.store.Put(ctx, p, data, contentType)
	if err != nil {
		// A failed put may still have left a partial object behind.
		t.remember(p)
		return "", err
	}
	t.remember(p)
	return url, nil
}

// Paths returns the logical paths uploaded so far.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

// Cleanup deletes every tracked path, continuing past individual failures.
// It returns the number of paths that could not be deleted.
func (t *Tracker) Cleanup(ctx context.Context) int {
	failed := 0
	for _, p := range t.Paths() {
		if err := t.store.Delete(ctx, p); err != nil {
			failed++
			slog.Error("artifact cleanup failed", "path", p, "error", err)
		}
	}
	t.mu.Lock()
	t.paths = nil
	t.mu.Unlock()
	return failed
}

func (t *Tracker) remember(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.paths {
		if existing == p {
			return
		}
	}
	t.paths = append(t.paths, p)
}
