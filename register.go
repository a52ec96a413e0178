package sbcache

import (
	"sync"
	"sync/atomic"
)

// Registration is returned by Register. The zero value is inert.
//
// When NeedsFetch reports true the holder is responsible for fetching list
// updates, applying them with Update, and then calling Done exactly once.
// Cancel only withdraws the holder's callback; it does not end a fetch.
type Registration struct {
	done   func(success bool)
	cancel func()
}

// NeedsFetch reports whether the holder has to drive a refresh.
func (r Registration) NeedsFetch() bool { return r.done != nil }

// Done ends the refresh started by this registration and releases every
// waiting callback with success. Calls after the first are ignored.
func (r Registration) Done(success bool) {
	if r.done != nil {
		r.done(success)
	}
}

// Cancel withdraws the registration's callback. A callback that has not
// started will not run; one already running is not interrupted.
func (r Registration) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}

type waiter struct {
	fn    func(bool)
	fired atomic.Bool
}

// claim returns true for exactly one caller.
func (w *waiter) claim() bool { return w.fired.CompareAndSwap(false, true) }

// freshnessLocked reports whether every known list is loaded and younger than
// maxAge, and whether any is missing or older than refreshAfter.
func (c *Cache) freshnessLocked() (usable, needsUpdate bool) {
	now := c.now()
	usable = true
	for _, id := range c.known {
		e, ok := c.lists[id]
		if !ok {
			return false, true
		}
		age := now.Sub(e.updated)
		if age > c.refreshAfter {
			needsUpdate = true
		}
		if age > c.maxAge {
			usable = false
		}
	}
	return usable, needsUpdate
}

// Register reports cache usability to updated. With wait=false, or when the
// cache is fresh and nothing is in flight, updated runs before Register
// returns with whether the cache is usable. Otherwise it runs once the
// in-flight refresh ends, with that refresh's success.
//
// The first registration that finds the cache stale while no refresh is in
// flight becomes the fetcher; see Registration.
func (c *Cache) Register(wait bool, updated func(ok bool)) Registration {
	c.mu.Lock()
	usable, needsUpdate := c.freshnessLocked()
	var w *waiter
	if wait && updated != nil && (needsUpdate || c.fetching) {
		w = &waiter{fn: updated}
		c.waiting = append(c.waiting, w)
	}
	owner := needsUpdate && !c.fetching
	if owner {
		c.fetching = true
	}
	c.mu.Unlock()

	var reg Registration
	if w != nil {
		reg.cancel = func() { c.withdraw(w) }
	} else if updated != nil {
		updated(usable)
	}
	if owner {
		c.log.Debug("refresh started", Fields{"waiting": w != nil})
		var once sync.Once
		reg.done = func(success bool) { once.Do(func() { c.finishRefresh(success) }) }
	}
	return reg
}

func (c *Cache) withdraw(w *waiter) {
	w.claim()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.waiting {
		if x == w {
			c.waiting = append(c.waiting[:i], c.waiting[i+1:]...)
			return
		}
	}
}

func (c *Cache) finishRefresh(success bool) {
	c.mu.Lock()
	c.fetching = false
	waiting := c.waiting
	c.waiting = nil
	c.mu.Unlock()

	c.log.Debug("refresh finished", Fields{"success": success, "waiters": len(waiting)})
	for _, w := range waiting {
		if w.claim() {
			w.fn(success)
		}
	}
}
