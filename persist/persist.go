// Package persist keeps threat lists across restarts. It decorates a
// sbcache.Storage and writes a snapshot of every list an update touches to a
// provider.Provider; Restore loads them back into the cache.
//
// Every snapshot carries the namespace epoch it was written under. Clear
// bumps the epoch, so snapshots that escaped deletion are recognized as
// stale on the next Restore and removed.
//
// Keys:
//
//	sbl:<ns>:<list>  - one snapshot per list
package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/sbcache"
	"github.com/unkn0wn-root/sbcache/codec"
	"github.com/unkn0wn-root/sbcache/genstore"
	"github.com/unkn0wn-root/sbcache/internal/util"
	pr "github.com/unkn0wn-root/sbcache/provider"
	"github.com/unkn0wn-root/sbcache/snapshot"
)

const defaultTimeout = 5 * time.Second

// SetCostFunc returns the admission cost of one encoded snapshot.
type SetCostFunc func(key string, raw []byte) int64

// Options configure the decorator. Namespace and Provider are required.
type Options struct {
	Namespace string
	Provider  pr.Provider

	Codec          codec.Codec       // nil => codec.Wire{}
	GenStore       genstore.GenStore // nil => genstore.NewLocal()
	TTL            time.Duration     // snapshot TTL; 0 => no expiry
	Timeout        time.Duration     // per store round-trip; 0 => 5s
	ComputeSetCost SetCostFunc       // nil => len(raw)

	// PersistConfirmations writes a list's snapshot after Set as well, so
	// confirmed full hashes survive a restart without waiting for the next
	// update. Each write is a full list snapshot.
	PersistConfirmations bool

	Logger sbcache.Logger // nil => NopLogger
	Hooks  sbcache.Hooks  // nil => NopHooks
}

// Storage is a sbcache.Storage that mirrors cache contents to a provider.
type Storage struct {
	inner sbcache.Storage
	cache *sbcache.Cache

	ns          string
	provider    pr.Provider
	codec       codec.Codec
	gen         genstore.GenStore
	ttl         time.Duration
	timeout     time.Duration
	cost        SetCostFunc
	confirmFlag bool
	log         sbcache.Logger
	hooks       sbcache.Hooks

	mu      sync.Mutex
	written map[sbcache.List]struct{} // lists with a snapshot key in this process
}

var _ sbcache.Storage = (*Storage)(nil)

// Wrap decorates inner. cache must be the cache inner reads and writes.
func Wrap(inner sbcache.Storage, cache *sbcache.Cache, opts Options) (*Storage, error) {
	if inner == nil || cache == nil {
		return nil, fmt.Errorf("persist: storage and cache are required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("persist: provider is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("persist: namespace is required")
	}
	if opts.TTL < 0 || opts.Timeout < 0 {
		return nil, fmt.Errorf("persist: durations must not be negative")
	}

	s := &Storage{
		inner:       inner,
		cache:       cache,
		ns:          opts.Namespace,
		provider:    opts.Provider,
		ttl:         opts.TTL,
		confirmFlag: opts.PersistConfirmations,
		written:     make(map[sbcache.List]struct{}),
	}

	// defaults
	s.codec = opts.Codec
	if s.codec == nil {
		s.codec = codec.Wire{}
	}
	s.gen = opts.GenStore
	if s.gen == nil {
		s.gen = genstore.NewLocal()
	}
	s.timeout = coalesce(opts.Timeout, defaultTimeout)
	s.log = coalesce[sbcache.Logger](opts.Logger, sbcache.NopLogger{})
	s.hooks = coalesce[sbcache.Hooks](opts.Hooks, sbcache.NopHooks{})
	if opts.ComputeSetCost != nil {
		s.cost = opts.ComputeSetCost
	} else {
		s.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	return s, nil
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// Close releases the epoch store first, then the provider.
func (s *Storage) Close(ctx context.Context) error {
	_ = s.gen.Close(ctx)
	return s.provider.Close(ctx)
}

func (s *Storage) Register(wait bool, updated func(bool)) sbcache.Registration {
	return s.inner.Register(wait, updated)
}

func (s *Storage) Lists(hashes []sbcache.FullHash, filler int) (sbcache.Matches, error) {
	return s.inner.Lists(hashes, filler)
}

func (s *Storage) ListsForUpdate() map[sbcache.List]sbcache.Version { return s.inner.ListsForUpdate() }

func (s *Storage) LastFullPrefixUpdate(lists []sbcache.List) (time.Time, bool) {
	return s.inner.LastFullPrefixUpdate(lists)
}

// Update applies the updates and writes the snapshot of every touched list.
func (s *Storage) Update(updates map[sbcache.List]sbcache.ListUpdate, oldVersions map[sbcache.List]sbcache.Version) {
	s.inner.Update(updates, oldVersions)
	for l := range updates {
		s.flush(l)
	}
}

// Set forwards confirmations and, with PersistConfirmations, writes the
// snapshots of the lists they belong to.
func (s *Storage) Set(results map[sbcache.List]sbcache.Result) {
	s.inner.Set(results)
	if !s.confirmFlag {
		return
	}
	for l, r := range results {
		if r.Matches != nil {
			s.flush(l)
		}
	}
}

// Clear drops the cache, moves the namespace to a new epoch and deletes the
// snapshots it knows about.
func (s *Storage) Clear() {
	s.inner.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	epoch, err := s.gen.Bump(ctx, s.ns)
	if err != nil {
		s.log.Error("epoch bump failed", sbcache.Fields{"ns": s.ns, "err": err})
		s.hooks.PersistError("epoch", "", err)
	}

	s.mu.Lock()
	keys := make(map[sbcache.List]struct{}, len(s.written))
	for l := range s.written {
		keys[l] = struct{}{}
	}
	s.written = make(map[sbcache.List]struct{})
	s.mu.Unlock()
	for _, l := range s.cache.KnownLists() {
		keys[l] = struct{}{}
	}

	for l := range keys {
		if err := s.provider.Del(ctx, util.ListKey(s.ns, string(l))); err != nil {
			s.log.Warn("snapshot delete failed", sbcache.Fields{"ns": s.ns, "list": string(l), "err": err})
			s.hooks.PersistError("del", l, err)
		}
	}
	s.log.Info("persisted lists cleared", sbcache.Fields{"ns": s.ns, "epoch": epoch})
}

// flush writes the current snapshot of l. The epoch is read before the
// snapshot is taken, so a concurrent Clear can only make the written
// snapshot stale, never resurrect cleared data under the new epoch.
func (s *Storage) flush(l sbcache.List) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	epoch, err := s.gen.Snapshot(ctx, s.ns)
	if err != nil {
		s.log.Warn("epoch snapshot failed; skipping write", sbcache.Fields{"ns": s.ns, "list": string(l), "err": err})
		s.hooks.PersistError("epoch", l, err)
		return
	}
	snap, ok := s.cache.Snapshot(l)
	if !ok {
		return
	}
	snap.Epoch = epoch

	raw, err := s.codec.Encode(snap)
	if err != nil {
		s.log.Error("snapshot encode failed", sbcache.Fields{"list": string(l), "codec": s.codec.Name(), "err": err})
		s.hooks.PersistError("encode", l, err)
		return
	}
	key := util.ListKey(s.ns, string(l))
	ok, err = s.provider.Set(ctx, key, raw, s.cost(key, raw), s.ttl)
	if err != nil {
		s.log.Warn("snapshot write failed", sbcache.Fields{"list": string(l), "err": err})
		s.hooks.PersistError("set", l, err)
		return
	}
	if !ok {
		s.log.Debug("snapshot rejected by provider (pressure)", sbcache.Fields{"list": string(l), "bytes": len(raw)})
		return
	}

	s.mu.Lock()
	s.written[l] = struct{}{}
	s.mu.Unlock()
	s.log.Debug("snapshot written", sbcache.Fields{
		"list": string(l), "version": util.Redact(snap.Version), "epoch": epoch, "bytes": len(raw),
	})
}

// Restore loads the persisted snapshot of every known list into the cache.
// Corrupt, invalid and stale snapshots are deleted and skipped. Only provider
// and epoch store failures are returned.
func (s *Storage) Restore(ctx context.Context) error {
	epoch, err := s.gen.Snapshot(ctx, s.ns)
	if err != nil {
		s.hooks.PersistError("epoch", "", err)
		return fmt.Errorf("persist: epoch: %w", err)
	}

	var errs []error
	var snaps []snapshot.List
	for _, l := range s.cache.KnownLists() {
		key := util.ListKey(s.ns, string(l))
		raw, ok, err := s.provider.Get(ctx, key)
		if err != nil {
			s.hooks.PersistError("get", l, err)
			errs = append(errs, fmt.Errorf("persist: get %s: %w", key, err))
			continue
		}
		if !ok {
			continue
		}

		snap, err := s.codec.Decode(raw)
		if err != nil {
			s.log.Warn("corrupt snapshot dropped", sbcache.Fields{"list": string(l), "codec": s.codec.Name(), "err": err})
			s.hooks.PersistError("decode", l, err)
			_ = s.provider.Del(ctx, key) // self-heal
			continue
		}
		if snap.Epoch != epoch || snap.List != string(l) {
			s.log.Debug("stale snapshot dropped", sbcache.Fields{"list": string(l), "epoch": snap.Epoch, "current": epoch})
			_ = s.provider.Del(ctx, key)
			continue
		}
		snaps = append(snaps, snap)
	}

	if err := s.cache.Restore(snaps...); err != nil {
		s.selfHeal(ctx, err)
	}

	s.mu.Lock()
	for _, snap := range snaps {
		s.written[sbcache.List(snap.List)] = struct{}{}
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}

// selfHeal deletes the snapshots the cache refused.
func (s *Storage) selfHeal(ctx context.Context, err error) {
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return
	}
	for _, e := range joined.Unwrap() {
		var se *sbcache.SnapshotError
		if !errors.As(e, &se) {
			continue
		}
		s.log.Warn("invalid snapshot dropped", sbcache.Fields{"list": string(se.List), "err": se.Err})
		s.hooks.PersistError("restore", se.List, se.Err)
		_ = s.provider.Del(ctx, util.ListKey(s.ns, string(se.List)))
	}
}
