package sbcache

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/decred/dcrd/crypto/rand"

	"github.com/unkn0wn-root/sbcache/snapshot"
)

// prefixGroup is every prefix of one length in a list, sorted and packed.
type prefixGroup struct {
	size int
	data []byte
}

func (g prefixGroup) count() int      { return len(g.data) / g.size }
func (g prefixGroup) at(i int) []byte { return g.data[i*g.size : (i+1)*g.size] }

// find returns the stored prefix hash starts with, if any.
func (g prefixGroup) find(hash FullHash) ([]byte, bool) {
	key := hash[:g.size]
	n := g.count()
	i := sort.Search(n, func(i int) bool { return bytes.Compare(g.at(i), key) >= 0 })
	if i < n && bytes.Equal(g.at(i), key) {
		return g.at(i), true
	}
	return nil, false
}

// listEntry is the state of one list. groups is never mutated after the
// entry is built; an accepted update swaps in a new entry.
type listEntry struct {
	version Version
	updated time.Time
	groups  []prefixGroup // ascending size, none empty
	count   int
	filter  *bloom.BloomFilter // nil when disabled or empty
	hashes  map[string]HashSet // confirmed full hashes per prefix
}

// prefixAt returns the i-th prefix counting group by group.
func (e *listEntry) prefixAt(i int) []byte {
	for _, g := range e.groups {
		if n := g.count(); i >= n {
			i -= n
			continue
		}
		return g.at(i)
	}
	return nil
}

// Cache is the authoritative per-list store of hash prefixes. It is safe for
// concurrent use; a single RWMutex serializes writers against readers so a
// lookup never observes half of an update.
type Cache struct {
	known          []List
	updateInterval time.Duration
	refreshAfter   time.Duration
	maxAge         time.Duration
	bloomFP        float64
	now            func() time.Time
	log            Logger
	hooks          Hooks

	mu    sync.RWMutex
	lists map[List]*listEntry

	// refresh bookkeeping
	fetching bool
	waiting  []*waiter
}

// NewCache validates opts and returns an empty cache.
func NewCache(opts Options) (*Cache, error) {
	if opts.UpdateInterval < 0 || opts.RefreshAfter < 0 || opts.MaxAge < 0 {
		return nil, fmt.Errorf("sbcache: durations must not be negative")
	}
	if opts.BloomFalsePositiveRate >= 1 {
		return nil, fmt.Errorf("sbcache: bloom false positive rate %v must be below 1", opts.BloomFalsePositiveRate)
	}

	c := &Cache{
		lists: make(map[List]*listEntry),
		now:   opts.Now,
	}
	if len(opts.Lists) > 0 {
		seen := make(map[List]bool, len(opts.Lists))
		for _, l := range opts.Lists {
			if l == "" {
				return nil, fmt.Errorf("sbcache: empty list name")
			}
			if !seen[l] {
				seen[l] = true
				c.known = append(c.known, l)
			}
		}
	} else {
		c.known = append(c.known, DefaultLists...)
	}

	// defaults
	c.updateInterval = coalesce(opts.UpdateInterval, defaultUpdateInterval)
	c.refreshAfter = coalesce(opts.RefreshAfter, defaultRefreshAfter)
	c.maxAge = coalesce(opts.MaxAge, defaultMaxAge)
	c.bloomFP = coalesce(opts.BloomFalsePositiveRate, defaultBloomFPRate)
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if c.now == nil {
		c.now = time.Now
	}

	if c.refreshAfter > c.maxAge {
		return nil, fmt.Errorf("sbcache: refresh threshold %v exceeds max age %v", c.refreshAfter, c.maxAge)
	}
	return c, nil
}

// KnownLists returns the lists the cache expects to hold.
func (c *Cache) KnownLists() []List {
	out := make([]List, len(c.known))
	copy(out, c.known)
	return out
}

// Version returns the stored version of l.
func (c *Cache) Version(l List) (Version, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.lists[l]
	if !ok {
		return "", false
	}
	return e.version, true
}

// Len returns the number of prefixes stored for l.
func (c *Cache) Len(l List) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.lists[l]; ok {
		return e.count
	}
	return 0
}

// Lists finds, for every loaded list, the stored prefixes the candidate
// hashes start with and asks lookup about each one. A Listed answer makes
// the list certain; NotListed discards the candidate for that list; Unknown
// queues the prefix for confirmation. Every queued request is padded with
// random prefixes of the same list until it holds filler entries or the
// whole list.
//
// lookup runs while the cache is read-locked and must not call back into c.
// With no data loaded, Lists returns empty Matches and ErrNotReady.
func (c *Cache) Lists(hashes []FullHash, filler int, lookup LookupFunc) (Matches, error) {
	if lookup == nil {
		lookup = unknownLookup
	}
	m := newMatches()

	c.mu.RLock()
	if len(c.lists) == 0 {
		c.mu.RUnlock()
		return m, ErrNotReady
	}
	for id, e := range c.lists {
		prefixes, certain := e.match(id, hashes, lookup)
		if certain {
			m.Certain[id] = struct{}{}
			continue
		}
		if len(prefixes) == 0 {
			continue
		}
		if fingerprints(prefixes) {
			c.mu.RUnlock()
			c.log.Warn("lookup refused (fingerprinting)", listFields(id, e.version, "prefixes", len(prefixes)))
			c.hooks.Fingerprinting(id, len(prefixes))
			return newMatches(), ErrFingerprinting
		}
		e.pad(prefixes, filler)
		m.Requests[id] = Request{Version: e.version, Prefixes: prefixes}
	}
	c.mu.RUnlock()
	return m, nil
}

func unknownLookup(List, Version, string, FullHash) Answer { return Unknown }

// match returns the ambiguous prefixes of e the hashes hit, or certain=true
// as soon as lookup confirms one of them.
func (e *listEntry) match(id List, hashes []FullHash, lookup LookupFunc) (prefixes PrefixSet, certain bool) {
next:
	for _, h := range hashes {
		if e.filter != nil && !e.filter.Test(h[:MinPrefixSize]) {
			continue
		}
		var possible []string
		for _, g := range e.groups {
			p, ok := g.find(h)
			if !ok {
				continue
			}
			switch lookup(id, e.version, string(p), h) {
			case Listed:
				return nil, true
			case NotListed:
				continue next
			default:
				possible = append(possible, string(p))
			}
		}
		if len(possible) == 0 {
			continue
		}
		if prefixes == nil {
			prefixes = make(PrefixSet)
		}
		for _, p := range possible {
			prefixes[p] = struct{}{}
		}
	}
	return prefixes, false
}

// fingerprints reports whether prefixes reveal more than one short prefix
// worth of the visited url.
func fingerprints(prefixes PrefixSet) bool {
	total, longest := 0, 0
	for p := range prefixes {
		total += len(p)
		if len(p) > longest {
			longest = len(p)
		}
	}
	return total-longest >= 8
}

// pad adds decoys drawn uniformly without replacement from e until prefixes
// holds filler entries or the whole list. Real prefixes are never removed.
// The draw is a partial Fisher-Yates shuffle; moved holds the displaced
// slots, so at most count indices are ever drawn.
func (e *listEntry) pad(prefixes PrefixSet, filler int) {
	target := min(filler, e.count)
	moved := make(map[int]int)
	slot := func(i int) int {
		if v, ok := moved[i]; ok {
			return v
		}
		return i
	}
	for i := 0; len(prefixes) < target && i < e.count; i++ {
		j := i + rand.IntN(e.count-i)
		pick := slot(j)
		moved[j] = slot(i)
		prefixes[string(e.prefixAt(pick))] = struct{}{}
	}
}

// Lookup answers from the confirmed full hashes stored by Set.
func (c *Cache) Lookup(list List, version Version, prefix string, hash FullHash) Answer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookupLocked(list, version, prefix, hash)
}

// lookupLocked is Lookup for callers already holding c.mu.
func (c *Cache) lookupLocked(list List, version Version, prefix string, hash FullHash) Answer {
	e, ok := c.lists[list]
	if !ok || e.version != version {
		return Unknown
	}
	known, ok := e.hashes[prefix]
	return answerFor(known, ok, hash)
}

// Set stores confirmed full hashes for lists whose version is unchanged.
func (c *Cache) Set(results map[List]Result) {
	var stale []List
	var staleVersions []Version

	c.mu.Lock()
	for id, r := range results {
		if r.Matches == nil {
			continue
		}
		e, ok := c.lists[id]
		if !ok || e.version != r.Version {
			stale = append(stale, id)
			staleVersions = append(staleVersions, r.Version)
			continue
		}
		for p, hs := range r.Matches {
			e.hashes[p] = cloneHashSet(hs)
		}
	}
	c.mu.Unlock()

	for i, id := range stale {
		c.log.Debug("confirmation discarded (version moved)", listFields(id, staleVersions[i]))
		c.hooks.StaleConfirmation(id, staleVersions[i])
	}
}

func cloneHashSet(hs HashSet) HashSet {
	out := make(HashSet, len(hs))
	for h := range hs {
		out[h] = struct{}{}
	}
	return out
}

// ListsForUpdate maps every list due for an update to its stored version.
// Lists that were never loaded map to "".
func (c *Cache) ListsForUpdate() map[List]Version {
	now := c.now()
	out := make(map[List]Version)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, e := range c.lists {
		if now.Sub(e.updated) > c.updateInterval {
			out[id] = e.version
		}
	}
	for _, id := range c.known {
		if _, ok := c.lists[id]; !ok {
			out[id] = ""
		}
	}
	return out
}

// LastFullPrefixUpdate returns the oldest update time of lists.
func (c *Cache) LastFullPrefixUpdate(lists []List) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var oldest time.Time
	for i, id := range lists {
		e, ok := c.lists[id]
		if !ok {
			return time.Time{}, false
		}
		if i == 0 || e.updated.Before(oldest) {
			oldest = e.updated
		}
	}
	return oldest, len(lists) > 0
}

// Clear drops every list.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.lists)
	c.lists = make(map[List]*listEntry)
	c.mu.Unlock()
	c.log.Info("cache cleared", Fields{"lists": n})
}

// Update applies list updates. For every list the caller's oldVersions
// entry must equal the stored version, otherwise the update is skipped
// silently. A missing entry reads as "", which matches only a list never
// loaded. An update carrying the stored version only
// refreshes the list's update time. A structurally unusable update leaves the
// list unchanged.
func (c *Cache) Update(updates map[List]ListUpdate, oldVersions map[List]Version) {
	now := c.now()
	var events []func()

	c.mu.Lock()
	for id, u := range updates {
		cur := c.lists[id]
		var have Version
		if cur != nil {
			have = cur.version
		}
		want := oldVersions[id]
		if want != have {
			c.log.Debug("update skipped (version mismatch)",
				listFields(id, u.Version, "have", string(have), "want", string(want)))
			events = append(events, func() { c.hooks.StaleUpdate(id, have, want) })
			continue
		}
		if cur != nil && cur.version == u.Version {
			cur.updated = now
			continue
		}

		next, reason := c.apply(cur, u, now)
		if reason != "" {
			c.log.Warn("update rejected", listFields(id, u.Version, "reason", reason, "full", u.Full()))
			events = append(events, func() { c.hooks.UpdateRejected(id, reason) })
			continue
		}
		c.lists[id] = next
		c.log.Debug("update applied", listFields(id, u.Version,
			"full", u.Full(), "added", len(u.Additions), "deleted", len(u.Deletions), "prefixes", next.count))
		events = append(events, func() { c.hooks.UpdateApplied(id, next.version, u.Full(), next.count) })
	}
	c.mu.Unlock()

	for _, ev := range events {
		ev()
	}
}

// apply builds the entry that results from u on top of cur. A non-empty
// reason means the update must not be applied.
func (c *Cache) apply(cur *listEntry, u ListUpdate, now time.Time) (*listEntry, string) {
	if u.Version == "" {
		return nil, "empty_version"
	}
	adds := u.Additions.Sorted()
	for _, p := range adds {
		if len(p) < MinPrefixSize || len(p) > MaxPrefixSize {
			return nil, "prefix_size"
		}
	}

	if u.Full() {
		return c.newEntry(u.Version, now, packGroups(adds)), ""
	}
	if cur == nil {
		return nil, "no_base"
	}
	kept, ok := cur.without(u.Deletions)
	if !ok {
		return nil, "deletion_range"
	}
	merged, ok := mergeGroups(kept, adds)
	if !ok {
		return nil, "duplicate_addition"
	}
	return c.newEntry(u.Version, now, merged), ""
}

func (c *Cache) newEntry(version Version, updated time.Time, groups []prefixGroup) *listEntry {
	e := &listEntry{
		version: version,
		updated: updated,
		groups:  groups,
		hashes:  make(map[string]HashSet),
	}
	for _, g := range groups {
		e.count += g.count()
	}
	if c.bloomFP > 0 && e.count > 0 {
		e.filter = bloom.NewWithEstimates(uint(e.count), c.bloomFP)
		for _, g := range groups {
			for i := 0; i < g.count(); i++ {
				e.filter.Add(g.at(i)[:MinPrefixSize])
			}
		}
	}
	return e
}

// packGroups buckets lexicographically sorted prefixes by length. Every
// bucket inherits the sort order.
func packGroups(sorted []string) []prefixGroup {
	bySize := make(map[int][]byte)
	for _, p := range sorted {
		bySize[len(p)] = append(bySize[len(p)], p...)
	}
	out := make([]prefixGroup, 0, len(bySize))
	for size, data := range bySize {
		out = append(out, prefixGroup{size: size, data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].size < out[j].size })
	return out
}

// without removes the prefixes at the given positions of the list's
// lexicographic order. It walks all groups in merged order once.
func (e *listEntry) without(deletions []int) ([]prefixGroup, bool) {
	if len(deletions) == 0 {
		return e.groups, true
	}
	del := make([]int, len(deletions))
	copy(del, deletions)
	sort.Ints(del)
	if del[0] < 0 || del[len(del)-1] >= e.count {
		return nil, false
	}

	heads := make([]int, len(e.groups))
	kept := make([][]byte, len(e.groups))
	d := 0
	for idx := 0; idx < e.count; idx++ {
		best := -1
		for gi, g := range e.groups {
			if heads[gi] >= g.count() {
				continue
			}
			if best < 0 || bytes.Compare(g.at(heads[gi]), e.groups[best].at(heads[best])) < 0 {
				best = gi
			}
		}
		p := e.groups[best].at(heads[best])
		heads[best]++

		for d < len(del) && del[d] < idx {
			d++
		}
		if d < len(del) && del[d] == idx {
			continue
		}
		kept[best] = append(kept[best], p...)
	}

	out := make([]prefixGroup, 0, len(e.groups))
	for gi, data := range kept {
		if len(data) > 0 {
			out = append(out, prefixGroup{size: e.groups[gi].size, data: data})
		}
	}
	return out, true
}

// mergeGroups merges sorted additions into groups. An addition that is
// already present fails the merge.
func mergeGroups(groups []prefixGroup, adds []string) ([]prefixGroup, bool) {
	if len(adds) == 0 {
		return groups, true
	}
	bySize := make(map[int][]string)
	for _, a := range adds {
		bySize[len(a)] = append(bySize[len(a)], a)
	}

	out := make([]prefixGroup, 0, len(groups)+len(bySize))
	for _, g := range groups {
		extra, ok := bySize[g.size]
		if !ok {
			out = append(out, g)
			continue
		}
		delete(bySize, g.size)
		merged, ok := mergeSorted(g, extra)
		if !ok {
			return nil, false
		}
		out = append(out, merged)
	}
	for size, extra := range bySize {
		data := make([]byte, 0, size*len(extra))
		for _, a := range extra {
			data = append(data, a...)
		}
		out = append(out, prefixGroup{size: size, data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].size < out[j].size })
	return out, true
}

func mergeSorted(g prefixGroup, extra []string) (prefixGroup, bool) {
	n := g.count()
	data := make([]byte, 0, len(g.data)+g.size*len(extra))
	i, j := 0, 0
	for i < n || j < len(extra) {
		switch {
		case j == len(extra):
			data = append(data, g.data[i*g.size:]...)
			i = n
		case i == n:
			data = append(data, extra[j]...)
			j++
		default:
			switch cmp := bytes.Compare(g.at(i), []byte(extra[j])); {
			case cmp < 0:
				data = append(data, g.at(i)...)
				i++
			case cmp > 0:
				data = append(data, extra[j]...)
				j++
			default:
				return prefixGroup{}, false
			}
		}
	}
	return prefixGroup{size: g.size, data: data}, true
}

// Snapshot returns a deep copy of l's state.
func (c *Cache) Snapshot(l List) (snapshot.List, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.lists[l]
	if !ok {
		return snapshot.List{}, false
	}
	s := snapshot.List{
		List:      string(l),
		Version:   string(e.version),
		UpdatedAt: e.updated,
		Groups:    make([]snapshot.Group, 0, len(e.groups)),
	}
	for _, g := range e.groups {
		s.Groups = append(s.Groups, snapshot.Group{Size: g.size, Prefixes: bytes.Clone(g.data)})
	}

	prefixes := make([]string, 0, len(e.hashes))
	for p := range e.hashes {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		hs := make([]FullHash, 0, len(e.hashes[p]))
		for h := range e.hashes[p] {
			hs = append(hs, h)
		}
		sort.Slice(hs, func(i, j int) bool { return bytes.Compare(hs[i][:], hs[j][:]) < 0 })
		packed := make([]byte, 0, len(hs)*HashSize)
		for _, h := range hs {
			packed = append(packed, h[:]...)
		}
		s.Confirmed = append(s.Confirmed, snapshot.Confirmed{Prefix: []byte(p), Hashes: packed})
	}
	return s, true
}

// Restore loads snapshots. A snapshot replaces the stored list only if the
// list is absent or older. Invalid snapshots are skipped and reported as
// *SnapshotError values joined together.
func (c *Cache) Restore(snaps ...snapshot.List) error {
	var errs []error
	entries := make(map[List]*listEntry, len(snaps))
	for _, s := range snaps {
		if err := s.Validate(); err != nil {
			errs = append(errs, &SnapshotError{List: List(s.List), Err: err})
			continue
		}
		groups := make([]prefixGroup, 0, len(s.Groups))
		for _, g := range s.Groups {
			groups = append(groups, prefixGroup{size: g.Size, data: bytes.Clone(g.Prefixes)})
		}
		e := c.newEntry(Version(s.Version), s.UpdatedAt, groups)
		for _, conf := range s.Confirmed {
			hs := make(HashSet, len(conf.Hashes)/HashSize)
			for i := 0; i < len(conf.Hashes); i += HashSize {
				var h FullHash
				copy(h[:], conf.Hashes[i:i+HashSize])
				hs[h] = struct{}{}
			}
			e.hashes[string(conf.Prefix)] = hs
		}
		entries[List(s.List)] = e
	}

	c.mu.Lock()
	restored := 0
	for id, e := range entries {
		if cur, ok := c.lists[id]; ok && !e.updated.After(cur.updated) {
			continue
		}
		c.lists[id] = e
		restored++
	}
	c.mu.Unlock()

	if restored > 0 {
		c.log.Info("lists restored", Fields{"lists": restored})
	}
	return errors.Join(errs...)
}
