// Package asynchook moves hook calls off the cache's goroutine.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{StaleUpdateEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := sbcache.NewCache(sbcache.Options{Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/sbcache"
)

// Hooks queues events for a fixed pool of workers. Events arriving while the
// queue is full, or after Close, are dropped and counted.
type Hooks struct {
	inner   sbcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends
	closed  bool
	dropped atomic.Uint64
}

var _ sbcache.Hooks = (*Hooks)(nil)

func New(inner sbcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns the number of events discarded so far.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) StaleUpdate(l sbcache.List, have, want sbcache.Version) {
	h.try(func() { h.inner.StaleUpdate(l, have, want) })
}
func (h *Hooks) UpdateRejected(l sbcache.List, reason string) {
	h.try(func() { h.inner.UpdateRejected(l, reason) })
}
func (h *Hooks) UpdateApplied(l sbcache.List, v sbcache.Version, full bool, n int) {
	h.try(func() { h.inner.UpdateApplied(l, v, full, n) })
}
func (h *Hooks) Fingerprinting(l sbcache.List, n int) {
	h.try(func() { h.inner.Fingerprinting(l, n) })
}
func (h *Hooks) StaleConfirmation(l sbcache.List, v sbcache.Version) {
	h.try(func() { h.inner.StaleConfirmation(l, v) })
}
func (h *Hooks) PersistError(op string, l sbcache.List, err error) {
	h.try(func() { h.inner.PersistError(op, l, err) })
}
