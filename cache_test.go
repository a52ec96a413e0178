package sbcache

import (
	"encoding/binary"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/sbcache/snapshot"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type event struct {
	kind string
	list List
	arg  string
}

type recHooks struct {
	NopHooks
	mu     sync.Mutex
	events []event
}

func (h *recHooks) add(e event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *recHooks) StaleUpdate(l List, _, want Version) { h.add(event{"stale_update", l, string(want)}) }
func (h *recHooks) UpdateRejected(l List, reason string)  { h.add(event{"rejected", l, reason}) }
func (h *recHooks) Fingerprinting(l List, _ int)          { h.add(event{"fingerprinting", l, ""}) }

func (h *recHooks) UpdateApplied(l List, v Version, _ bool, _ int) {
	h.add(event{"applied", l, string(v)})
}

func (h *recHooks) StaleConfirmation(l List, v Version) {
	h.add(event{"stale_confirmation", l, string(v)})
}

func (h *recHooks) last() event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return event{}
	}
	return h.events[len(h.events)-1]
}

var testLists = []List{Malware, SocialEngineering}

func newTestCache(t *testing.T, mutate func(*Options)) (*Cache, *clock, *recHooks) {
	t.Helper()
	clk := newClock()
	hooks := &recHooks{}
	opts := Options{Lists: testLists, Now: clk.Now, Hooks: hooks}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewCache(opts)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c, clk, hooks
}

func prefixes(ps ...string) PrefixSet {
	s := make(PrefixSet, len(ps))
	for _, p := range ps {
		s[p] = struct{}{}
	}
	return s
}

func full(version string, ps ...string) ListUpdate {
	return ListUpdate{Version: Version(version), Additions: prefixes(ps...)}
}

func partial(version string, deletions []int, ps ...string) ListUpdate {
	if deletions == nil {
		deletions = []int{}
	}
	return ListUpdate{Version: Version(version), Additions: prefixes(ps...), Deletions: deletions}
}

func hashOf(prefix string) FullHash {
	var h FullHash
	copy(h[:], prefix)
	return h
}

// load applies one update to l from whatever version it currently holds.
func load(c *Cache, l List, u ListUpdate) {
	cur, _ := c.Version(l)
	c.Update(map[List]ListUpdate{l: u}, map[List]Version{l: cur})
}

// stored returns l's prefixes in lexicographic order.
func stored(t *testing.T, c *Cache, l List) []string {
	t.Helper()
	s, ok := c.Snapshot(l)
	if !ok {
		t.Fatalf("list %s not loaded", l)
	}
	set := make(PrefixSet)
	for _, g := range s.Groups {
		for i := 0; i < len(g.Prefixes); i += g.Size {
			set.Add(g.Prefixes[i : i+g.Size])
		}
	}
	return set.Sorted()
}

func TestNewCacheValidates(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"negative interval", Options{UpdateInterval: -time.Second}},
		{"negative max age", Options{MaxAge: -time.Second}},
		{"fp rate", Options{BloomFalsePositiveRate: 1}},
		{"refresh beyond max age", Options{RefreshAfter: 2 * time.Hour, MaxAge: time.Hour}},
		{"empty list", Options{Lists: []List{Malware, ""}}},
	}
	for _, tc := range cases {
		if _, err := NewCache(tc.opts); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	c, err := NewCache(Options{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if !reflect.DeepEqual(c.KnownLists(), DefaultLists) {
		t.Fatalf("known lists = %v", c.KnownLists())
	}
}

func TestFullUpdateReplaces(t *testing.T) {
	c, _, hooks := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa", "bbbb"))
	load(c, Malware, full("m2", "cccc", "ddddd"))

	if got, want := stored(t, c, Malware), []string{"cccc", "ddddd"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("prefixes = %q want %q", got, want)
	}
	if v, _ := c.Version(Malware); v != "m2" {
		t.Fatalf("version = %q", v)
	}
	if e := hooks.last(); e.kind != "applied" || e.arg != "m2" {
		t.Fatalf("last hook = %+v", e)
	}
}

// TestPartialUpdateOrder removes by position in the lexicographic order across
// all prefix lengths, then merges additions.
func TestPartialUpdateOrder(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa", "aaaab", "abcde", "bbbb"))
	load(c, Malware, partial("m2", []int{3, 1}, "cccc", "aaaac"))

	want := []string{"aaaa", "aaaac", "abcde", "cccc"}
	if got := stored(t, c, Malware); !reflect.DeepEqual(got, want) {
		t.Fatalf("prefixes = %q want %q", got, want)
	}
	if c.Len(Malware) != 4 {
		t.Fatalf("Len = %d", c.Len(Malware))
	}
}

func TestPartialUpdateEmptiesGroup(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa", "bbbbb"))
	load(c, Malware, partial("m2", []int{1}))

	s, _ := c.Snapshot(Malware)
	if len(s.Groups) != 1 || s.Groups[0].Size != 4 {
		t.Fatalf("groups = %+v", s.Groups)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("snapshot invalid: %v", err)
	}
}

func TestStaleUpdateLeavesEntryUnchanged(t *testing.T) {
	c, clk, hooks := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa", "bbbb"))
	c.Set(map[List]Result{Malware: {Version: "m1", Matches: map[string]HashSet{"aaaa": NewHashSet(hashOf("aaaa"))}}})
	before, _ := c.Snapshot(Malware)

	clk.Advance(time.Hour)
	cases := []map[List]Version{
		{Malware: "m0"},         // wrong version
		{Malware: ""},           // claims no data
		{SocialEngineering: ""}, // no entry for the list at all
	}
	for _, old := range cases {
		c.Update(map[List]ListUpdate{Malware: full("m2", "zzzz")}, old)
		after, _ := c.Snapshot(Malware)
		if !reflect.DeepEqual(before, after) {
			t.Fatalf("oldVersions %v changed the entry:\n before %+v\n after  %+v", old, before, after)
		}
		if e := hooks.last(); e.kind != "stale_update" {
			t.Fatalf("last hook = %+v", e)
		}
	}

	// a missing list must be addressed with ""
	c.Update(map[List]ListUpdate{SocialEngineering: full("s1", "ssss")}, map[List]Version{SocialEngineering: "s0"})
	if _, ok := c.Version(SocialEngineering); ok {
		t.Fatalf("update applied to a missing list with a non-empty prior version")
	}
}

func TestMissingPriorVersionMeansNoData(t *testing.T) {
	c, _, hooks := newTestCache(t, nil)
	c.Update(map[List]ListUpdate{Malware: full("m1", "aaaa")}, map[List]Version{})
	if v, ok := c.Version(Malware); !ok || v != "m1" {
		t.Fatalf("first load with no prior versions: version = %q, %v", v, ok)
	}
	if e := hooks.last(); e.kind != "applied" {
		t.Fatalf("last hook = %+v", e)
	}

	c.Update(map[List]ListUpdate{Malware: full("m2", "bbbb")}, nil)
	if v, _ := c.Version(Malware); v != "m1" {
		t.Fatalf("loaded list updated without its prior version: %q", v)
	}
	if e := hooks.last(); e.kind != "stale_update" {
		t.Fatalf("last hook = %+v", e)
	}
}

func TestSameVersionOnlyRefreshes(t *testing.T) {
	c, clk, _ := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa"))
	clk.Advance(10 * time.Minute)
	load(c, Malware, full("m1", "zzzz"))

	if got := stored(t, c, Malware); !reflect.DeepEqual(got, []string{"aaaa"}) {
		t.Fatalf("prefixes = %q", got)
	}
	s, _ := c.Snapshot(Malware)
	if !s.UpdatedAt.Equal(clk.Now()) {
		t.Fatalf("updated = %v want %v", s.UpdatedAt, clk.Now())
	}
}

func TestRejectedUpdates(t *testing.T) {
	cases := []struct {
		name   string
		base   *ListUpdate
		update ListUpdate
		reason string
	}{
		{name: "empty version", update: full("", "aaaa"), reason: "empty_version"},
		{name: "short prefix", update: full("m1", "aaa"), reason: "prefix_size"},
		{name: "long prefix", update: full("m1", string(make([]byte, 33))), reason: "prefix_size"},
		{name: "no base", update: partial("m1", nil, "aaaa"), reason: "no_base"},
		{name: "deletion out of range", base: &ListUpdate{Version: "m1", Additions: prefixes("aaaa")},
			update: partial("m2", []int{1}), reason: "deletion_range"},
		{name: "negative deletion", base: &ListUpdate{Version: "m1", Additions: prefixes("aaaa")},
			update: partial("m2", []int{-1}), reason: "deletion_range"},
		{name: "duplicate addition", base: &ListUpdate{Version: "m1", Additions: prefixes("aaaa")},
			update: partial("m2", nil, "aaaa"), reason: "duplicate_addition"},
	}
	for _, tc := range cases {
		c, _, hooks := newTestCache(t, nil)
		if tc.base != nil {
			load(c, Malware, *tc.base)
		}
		before, hadBefore := c.Snapshot(Malware)

		load(c, Malware, tc.update)

		if e := hooks.last(); e.kind != "rejected" || e.arg != tc.reason {
			t.Fatalf("%s: last hook = %+v want rejected/%s", tc.name, e, tc.reason)
		}
		after, hasAfter := c.Snapshot(Malware)
		if hadBefore != hasAfter || !reflect.DeepEqual(before, after) {
			t.Fatalf("%s: entry changed", tc.name)
		}
	}
}

func TestDeletedThenReAdded(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa", "bbbb"))
	load(c, Malware, partial("m2", []int{0}, "aaaa"))
	if got := stored(t, c, Malware); !reflect.DeepEqual(got, []string{"aaaa", "bbbb"}) {
		t.Fatalf("prefixes = %q", got)
	}
}

func TestListsNotReady(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	m, err := c.Lists([]FullHash{hashOf("aaaa")}, 5, nil)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v want ErrNotReady", err)
	}
	if len(m.Certain) != 0 || len(m.Requests) != 0 {
		t.Fatalf("matches = %+v", m)
	}
}

func TestListsAnswers(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa", "bbbb"))
	load(c, SocialEngineering, full("s1", "aaaa"))

	listed, other := hashOf("aaaa"), hashOf("aaaa")
	other[31] = 1
	lookup := func(l List, v Version, p string, h FullHash) Answer {
		if l == Malware && h == listed {
			return Listed
		}
		if l == SocialEngineering {
			return NotListed
		}
		return Unknown
	}

	m, err := c.Lists([]FullHash{listed}, 0, lookup)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsCertain(Malware) {
		t.Fatalf("malware not certain: %+v", m)
	}
	if _, ok := m.Requests[Malware]; ok {
		t.Fatalf("certain list still requested")
	}
	if _, ok := m.Requests[SocialEngineering]; ok || m.IsCertain(SocialEngineering) {
		t.Fatalf("not-listed hash produced a match: %+v", m)
	}

	m, _ = c.Lists([]FullHash{other, hashOf("cccc")}, 0, lookup)
	req, ok := m.Requests[Malware]
	if !ok || req.Version != "m1" || !reflect.DeepEqual(req.Prefixes, prefixes("aaaa")) {
		t.Fatalf("request = %+v", req)
	}
}

func TestListsMatchesEveryPrefixLength(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	load(c, Malware, full("m1", "abcd", "abcdef", "abcdx"))

	m, err := c.Lists([]FullHash{hashOf("abcdefgh")}, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := prefixes("abcd", "abcdef")
	if got := m.Requests[Malware].Prefixes; !reflect.DeepEqual(got, want) {
		t.Fatalf("prefixes = %q want %q", got.Sorted(), want.Sorted())
	}
}

func packed(i uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], i*7919+13)
	return string(b[:])
}

func TestPaddingKeepsGenuineMatches(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	var all []string
	for i := uint32(0); i < 100; i++ {
		all = append(all, packed(i))
	}
	load(c, Malware, full("m1", all...))
	genuine := prefixes(packed(3), packed(42))
	hashes := []FullHash{hashOf(packed(3)), hashOf(packed(42)), hashOf("\xff\xff\xff\xff")}

	for _, filler := range []int{0, 1, 2, 10, 50, 99, 100, 1000} {
		m, err := c.Lists(hashes, filler, nil)
		if err != nil {
			t.Fatalf("filler %d: %v", filler, err)
		}
		got := m.Requests[Malware].Prefixes
		for p := range genuine {
			if _, ok := got[p]; !ok {
				t.Fatalf("filler %d: genuine prefix %x dropped", filler, p)
			}
		}
		want := filler
		if want < len(genuine) {
			want = len(genuine)
		}
		if want > len(all) {
			want = len(all)
		}
		if len(got) != want {
			t.Fatalf("filler %d: %d prefixes want %d", filler, len(got), want)
		}
		for p := range got {
			if !prefixes(all...).Has([]byte(p)) {
				t.Fatalf("filler %d: decoy %x is not a stored prefix", filler, p)
			}
		}
	}
}

func TestPaddingWholeLargeList(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	const n = 50000
	all := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		all = append(all, packed(i))
	}
	load(c, Malware, full("m1", all...))

	m, err := c.Lists([]FullHash{hashOf(packed(7))}, n, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(m.Requests[Malware].Prefixes); got != n {
		t.Fatalf("padded to %d prefixes want %d", got, n)
	}
}

func TestFingerprintGuard(t *testing.T) {
	c, _, hooks := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa", "bbbb", "cccc", "dddddddd"))

	// two short prefixes are fine
	if _, err := c.Lists([]FullHash{hashOf("aaaa"), hashOf("bbbb")}, 0, nil); err != nil {
		t.Fatalf("two prefixes: %v", err)
	}
	// one short prefix next to a long one is fine
	if _, err := c.Lists([]FullHash{hashOf("aaaa"), hashOf("dddddddd")}, 0, nil); err != nil {
		t.Fatalf("short + long: %v", err)
	}

	m, err := c.Lists([]FullHash{hashOf("aaaa"), hashOf("bbbb"), hashOf("cccc")}, 0, nil)
	if !errors.Is(err, ErrFingerprinting) {
		t.Fatalf("err = %v want ErrFingerprinting", err)
	}
	if len(m.Requests) != 0 || len(m.Certain) != 0 {
		t.Fatalf("matches returned with fingerprinting error: %+v", m)
	}
	if e := hooks.last(); e.kind != "fingerprinting" || e.list != Malware {
		t.Fatalf("last hook = %+v", e)
	}
}

func TestClearIsTotal(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa"))
	load(c, SocialEngineering, full("s1", "aaaa"))
	c.Clear()

	m, err := c.Lists([]FullHash{hashOf("aaaa")}, 10, nil)
	if !errors.Is(err, ErrNotReady) || len(m.Certain) != 0 || len(m.Requests) != 0 {
		t.Fatalf("after Clear: %+v, %v", m, err)
	}
	if got := c.ListsForUpdate(); len(got) != 2 || got[Malware] != "" || got[SocialEngineering] != "" {
		t.Fatalf("ListsForUpdate after Clear = %v", got)
	}
}

func TestSetAndVersionChange(t *testing.T) {
	c, _, hooks := newTestCache(t, nil)
	load(c, Malware, full("m1", "aaaa"))
	h := hashOf("aaaa")

	// stale and failed confirmations are ignored
	c.Set(map[List]Result{Malware: {Version: "m0", Matches: map[string]HashSet{"aaaa": NewHashSet(h)}}})
	if e := hooks.last(); e.kind != "stale_confirmation" || e.arg != "m0" {
		t.Fatalf("last hook = %+v", e)
	}
	c.Set(map[List]Result{Malware: {Version: "m1"}})
	if a := c.Lookup(Malware, "m1", "aaaa", h); a != Unknown {
		t.Fatalf("answer = %v want unknown", a)
	}

	c.Set(map[List]Result{Malware: {Version: "m1", Matches: map[string]HashSet{"aaaa": NewHashSet(h)}}})
	if a := c.Lookup(Malware, "m1", "aaaa", h); a != Listed {
		t.Fatalf("answer = %v want listed", a)
	}
	other := h
	other[31] = 9
	if a := c.Lookup(Malware, "m1", "aaaa", other); a != NotListed {
		t.Fatalf("answer = %v want not_listed", a)
	}
	if a := c.Lookup(Malware, "m0", "aaaa", h); a != Unknown {
		t.Fatalf("answer for old version = %v want unknown", a)
	}

	load(c, Malware, partial("m2", nil))
	if a := c.Lookup(Malware, "m2", "aaaa", h); a != Unknown {
		t.Fatalf("confirmations survived a version change: %v", a)
	}
}

func TestListsForUpdateAndLastFull(t *testing.T) {
	c, clk, _ := newTestCache(t, nil)
	if got := c.ListsForUpdate(); !reflect.DeepEqual(got, map[List]Version{Malware: "", SocialEngineering: ""}) {
		t.Fatalf("initial = %v", got)
	}
	if _, ok := c.LastFullPrefixUpdate(testLists); ok {
		t.Fatalf("LastFullPrefixUpdate ok with nothing loaded")
	}

	t0 := clk.Now()
	load(c, Malware, full("m1", "aaaa"))
	clk.Advance(10 * time.Minute)
	load(c, SocialEngineering, full("s1", "aaaa"))

	if got := c.ListsForUpdate(); len(got) != 0 {
		t.Fatalf("fresh lists due: %v", got)
	}
	if ts, ok := c.LastFullPrefixUpdate(testLists); !ok || !ts.Equal(t0) {
		t.Fatalf("last full = %v, %v want %v", ts, ok, t0)
	}
	if _, ok := c.LastFullPrefixUpdate(nil); ok {
		t.Fatalf("empty input reported ok")
	}

	clk.Advance(25 * time.Minute)
	if got := c.ListsForUpdate(); !reflect.DeepEqual(got, map[List]Version{Malware: "m1"}) {
		t.Fatalf("due = %v", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	src, clk, _ := newTestCache(t, nil)
	load(src, Malware, full("m1", "aaaa", "bbbbb"))
	h := hashOf("aaaa")
	src.Set(map[List]Result{Malware: {Version: "m1", Matches: map[string]HashSet{"aaaa": NewHashSet(h)}}})
	snap, ok := src.Snapshot(Malware)
	if !ok {
		t.Fatal("no snapshot")
	}

	dst, _, _ := newTestCache(t, nil)
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if a := dst.Lookup(Malware, "m1", "aaaa", h); a != Listed {
		t.Fatalf("restored confirmation answer = %v", a)
	}
	if got := stored(t, dst, Malware); !reflect.DeepEqual(got, []string{"aaaa", "bbbbb"}) {
		t.Fatalf("restored prefixes = %q", got)
	}

	// an older snapshot never replaces newer data
	clk.Advance(time.Hour)
	load(src, Malware, full("m2", "cccc"))
	newer, _ := src.Snapshot(Malware)
	if err := dst.Restore(newer); err != nil {
		t.Fatal(err)
	}
	if err := dst.Restore(snap); err != nil {
		t.Fatal(err)
	}
	if v, _ := dst.Version(Malware); v != "m2" {
		t.Fatalf("version = %q want m2", v)
	}
}

func TestRestoreRejectsInvalid(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	good := snapshot.List{List: "MALWARE", Version: "m1", Groups: []snapshot.Group{{Size: 4, Prefixes: []byte("aaaa")}}}
	bad := snapshot.List{List: "SOCIAL_ENGINEERING", Version: "s1", Groups: []snapshot.Group{{Size: 4, Prefixes: []byte("aaa")}}}

	err := c.Restore(good, bad)
	var se *SnapshotError
	if !errors.As(err, &se) || se.List != SocialEngineering {
		t.Fatalf("err = %v want SnapshotError for SOCIAL_ENGINEERING", err)
	}
	if !errors.Is(err, ErrInvalidSnapshot) || !errors.Is(err, snapshot.ErrInvalid) {
		t.Fatalf("err = %v does not match sentinels", err)
	}
	if _, ok := c.Version(Malware); !ok {
		t.Fatalf("valid snapshot not restored")
	}
	if _, ok := c.Version(SocialEngineering); ok {
		t.Fatalf("invalid snapshot restored")
	}
}

func TestBloomDisabled(t *testing.T) {
	c, _, _ := newTestCache(t, func(o *Options) { o.BloomFalsePositiveRate = -1 })
	load(c, Malware, full("m1", "aaaa"))
	m, err := c.Lists([]FullHash{hashOf("aaaa"), hashOf("zzzz")}, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(m.Requests[Malware].Prefixes, prefixes("aaaa")) {
		t.Fatalf("requests = %+v", m.Requests)
	}
}

func TestConcurrentLookupsAndUpdates(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	load(c, Malware, full("v0", "aaaa", "bbbb"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m, err := c.Lists([]FullHash{hashOf("aaaa")}, 2, nil)
				if err != nil {
					t.Errorf("Lists: %v", err)
					return
				}
				// every version holds aaaa, so it is always requested
				if req, ok := m.Requests[Malware]; !ok || !req.Prefixes.Has([]byte("aaaa")) {
					t.Errorf("aaaa missing from %+v", m.Requests)
					return
				}
			}
		}()
	}
	for j := 0; j < 100; j++ {
		load(c, Malware, full(string(rune('a'+j%26))+"v", "aaaa", "bbbb", packed(uint32(j))))
	}
	wg.Wait()
}
