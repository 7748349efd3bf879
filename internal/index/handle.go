// Package index owns the vector collection lifecycle: lazy handle
// resolution for queries and full rebuilds behind a job tracker.
package index

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vitalita/healthassist/internal/vectorstore"
)

// Handles resolves the live collection exactly once under concurrency. A nil
// handle is a valid state meaning the index has not been built yet; it is
// not cached, so the next caller retries resolution.
type Handles struct {
	mu     sync.RWMutex
	cached *vectorstore.Collection

	flight singleflight.Group
	init   func(ctx context.Context) (*vectorstore.Collection, error)
}

// NewHandles builds a Handles around an init function that loads or probes
// the live collection.
func NewHandles(init func(ctx context.Context) (*vectorstore.Collection, error)) *Handles {
	return &Handles{init: init}
}

// Get returns the live collection, resolving it on first use. Concurrent
// callers share one resolution attempt. A nil collection with nil error
// means the index does not exist yet.
func (h *Handles) Get(ctx context.Context) (*vectorstore.Collection, error) {
	h.mu.RLock()
	cached := h.cached
	h.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := h.flight.Do("collection", func() (interface{}, error) {
		coll, err := h.init(ctx)
		if err != nil {
			return nil, err
		}
		if coll != nil {
			h.mu.Lock()
			h.cached = coll
			h.mu.Unlock()
		}
		return coll, nil
	})
	if err != nil {
		return nil, err
	}
	coll, _ := v.(*vectorstore.Collection)
	return coll, nil
}

// Set swaps in a new live collection, typically after a rebuild. Passing nil
// clears the cache so the next Get resolves fresh.
func (h *Handles) Set(coll *vectorstore.Collection) {
	h.mu.Lock()
	h.cached = coll
	h.mu.Unlock()
}
