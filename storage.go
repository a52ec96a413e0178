package sbcache

import (
	"sync"
	"time"
)

var (
	_ Storage = DummyStorage{}
	_ Storage = (*EphemeralStorage)(nil)
	_ Storage = (*CachingStorage)(nil)
	_ Storage = (*PrefixCachingStorage)(nil)
)

// DummyStorage is the disabled policy. It holds nothing, never flags a url
// and reports itself usable.
type DummyStorage struct{}

func (DummyStorage) Register(_ bool, updated func(bool)) Registration {
	if updated != nil {
		updated(true)
	}
	return Registration{}
}

func (DummyStorage) Lists([]FullHash, int) (Matches, error) { return newMatches(), nil }
func (DummyStorage) Set(map[List]Result)                    {}
func (DummyStorage) ListsForUpdate() map[List]Version       { return map[List]Version{} }
func (DummyStorage) Update(map[List]ListUpdate, map[List]Version) {
}
func (DummyStorage) LastFullPrefixUpdate([]List) (time.Time, bool) { return time.Time{}, false }
func (DummyStorage) Clear()                                       {}

// EphemeralStorage keeps a private cache and never memoizes confirmations, so
// every ambiguous prefix is confirmed with the server again.
type EphemeralStorage struct {
	cache *Cache
}

// NewEphemeralStorage builds the private cache from opts.
func NewEphemeralStorage(opts Options) (*EphemeralStorage, error) {
	c, err := NewCache(opts)
	if err != nil {
		return nil, err
	}
	return &EphemeralStorage{cache: c}, nil
}

func (s *EphemeralStorage) Register(wait bool, updated func(bool)) Registration {
	return s.cache.Register(wait, updated)
}

func (s *EphemeralStorage) Lists(hashes []FullHash, filler int) (Matches, error) {
	return s.cache.Lists(hashes, filler, unknownLookup)
}

// Set discards confirmations.
func (s *EphemeralStorage) Set(map[List]Result) {}

func (s *EphemeralStorage) ListsForUpdate() map[List]Version { return s.cache.ListsForUpdate() }

func (s *EphemeralStorage) Update(updates map[List]ListUpdate, oldVersions map[List]Version) {
	s.cache.Update(updates, oldVersions)
}

func (s *EphemeralStorage) LastFullPrefixUpdate(lists []List) (time.Time, bool) {
	return s.cache.LastFullPrefixUpdate(lists)
}

func (s *EphemeralStorage) Clear() { s.cache.Clear() }

// CachingStorage shares prefixes and confirmed full hashes through one cache.
type CachingStorage struct {
	shared *Cache
}

func NewCachingStorage(shared *Cache) *CachingStorage {
	return &CachingStorage{shared: shared}
}

func (s *CachingStorage) Register(wait bool, updated func(bool)) Registration {
	return s.shared.Register(wait, updated)
}

func (s *CachingStorage) Lists(hashes []FullHash, filler int) (Matches, error) {
	return s.shared.Lists(hashes, filler, s.shared.lookupLocked)
}

func (s *CachingStorage) Set(results map[List]Result)     { s.shared.Set(results) }
func (s *CachingStorage) ListsForUpdate() map[List]Version { return s.shared.ListsForUpdate() }

func (s *CachingStorage) Update(updates map[List]ListUpdate, oldVersions map[List]Version) {
	s.shared.Update(updates, oldVersions)
}

func (s *CachingStorage) LastFullPrefixUpdate(lists []List) (time.Time, bool) {
	return s.shared.LastFullPrefixUpdate(lists)
}

func (s *CachingStorage) Clear() { s.shared.Clear() }

// PrefixCachingStorage shares prefixes through one cache but keeps the full
// hashes it learns in a private memo. The shared cache's confirmations are
// consulted first.
//
// Lock order: shared cache, then mu.
type PrefixCachingStorage struct {
	shared *Cache

	mu   sync.Mutex
	memo map[List]memoEntry
}

type memoEntry struct {
	version Version
	hashes  map[string]HashSet
}

func NewPrefixCachingStorage(shared *Cache) *PrefixCachingStorage {
	return &PrefixCachingStorage{shared: shared, memo: make(map[List]memoEntry)}
}

func (s *PrefixCachingStorage) Register(wait bool, updated func(bool)) Registration {
	return s.shared.Register(wait, updated)
}

func (s *PrefixCachingStorage) Lists(hashes []FullHash, filler int) (Matches, error) {
	return s.shared.Lists(hashes, filler, s.lookup)
}

// lookup runs under the shared cache's read lock.
func (s *PrefixCachingStorage) lookup(list List, version Version, prefix string, hash FullHash) Answer {
	if a := s.shared.lookupLocked(list, version, prefix, hash); a != Unknown {
		return a
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memo[list]
	if !ok || m.version != version {
		return Unknown
	}
	known, ok := m.hashes[prefix]
	return answerFor(known, ok, hash)
}

// Set memoizes results computed against the current list version. A memo
// entry for any other version is replaced.
func (s *PrefixCachingStorage) Set(results map[List]Result) {
	current := make(map[List]Version, len(results))
	for list := range results {
		current[list], _ = s.shared.Version(list)
	}

	var stale []List
	s.mu.Lock()
	for list, r := range results {
		if r.Matches == nil {
			continue
		}
		if r.Version != current[list] {
			stale = append(stale, list)
			continue
		}
		// the shared list may have moved through another storage
		m, ok := s.memo[list]
		if !ok || m.version != r.Version {
			m = memoEntry{version: r.Version, hashes: make(map[string]HashSet)}
			s.memo[list] = m
		}
		for p, hs := range r.Matches {
			m.hashes[p] = cloneHashSet(hs)
		}
	}
	s.mu.Unlock()

	for _, list := range stale {
		s.shared.hooks.StaleConfirmation(list, results[list].Version)
	}
}

func (s *PrefixCachingStorage) ListsForUpdate() map[List]Version { return s.shared.ListsForUpdate() }

// Update forwards to the shared cache and forgets memo entries of lists whose
// version changed.
func (s *PrefixCachingStorage) Update(updates map[List]ListUpdate, oldVersions map[List]Version) {
	s.shared.Update(updates, oldVersions)

	current := make(map[List]Version, len(updates))
	for list := range updates {
		current[list], _ = s.shared.Version(list)
	}
	s.mu.Lock()
	for list, v := range current {
		if m, ok := s.memo[list]; ok && m.version != v {
			delete(s.memo, list)
		}
	}
	s.mu.Unlock()
}

func (s *PrefixCachingStorage) LastFullPrefixUpdate(lists []List) (time.Time, bool) {
	return s.shared.LastFullPrefixUpdate(lists)
}

// Clear drops the memo and the shared cache.
func (s *PrefixCachingStorage) Clear() {
	s.mu.Lock()
	s.memo = make(map[List]memoEntry)
	s.mu.Unlock()
	s.shared.Clear()
}
