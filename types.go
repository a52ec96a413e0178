package sbcache

import "sort"

// List identifies an independently versioned threat list. Only identity
// matters to the cache.
type List string

// Threat lists served to browsers.
const (
	Malware                       List = "MALWARE"
	SocialEngineering             List = "SOCIAL_ENGINEERING"
	PotentiallyHarmfulApplication List = "POTENTIALLY_HARMFUL_APPLICATION"
	UnwantedSoftware              List = "UNWANTED_SOFTWARE"
)

// DefaultLists is used when Options.Lists is empty.
var DefaultLists = []List{Malware, SocialEngineering, PotentiallyHarmfulApplication, UnwantedSoftware}

// Version is the opaque client state token the server hands out per list.
// Versions are compared for equality only. The empty Version means "no data".
type Version string

const (
	// HashSize is the length of a full SHA-256 hash.
	HashSize = 32
	// MinPrefixSize and MaxPrefixSize bound the length of a stored prefix.
	MinPrefixSize = 4
	MaxPrefixSize = HashSize
)

// FullHash is the SHA-256 digest of one canonicalized URL expression.
type FullHash [HashSize]byte

// PrefixSet is a set of hash prefixes. Keys are raw bytes held in a string.
type PrefixSet map[string]struct{}

// NewPrefixSet builds a set from byte slices.
func NewPrefixSet(prefixes ...[]byte) PrefixSet {
	s := make(PrefixSet, len(prefixes))
	for _, p := range prefixes {
		s.Add(p)
	}
	return s
}

// Add inserts a copy of p.
func (s PrefixSet) Add(p []byte) { s[string(p)] = struct{}{} }

// Has reports whether p is in the set.
func (s PrefixSet) Has(p []byte) bool {
	_, ok := s[string(p)]
	return ok
}

// Sorted returns the members in lexicographic byte order.
func (s PrefixSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HashSet is a set of full hashes.
type HashSet map[FullHash]struct{}

// NewHashSet builds a set from full hashes.
func NewHashSet(hashes ...FullHash) HashSet {
	s := make(HashSet, len(hashes))
	for _, h := range hashes {
		s[h] = struct{}{}
	}
	return s
}

// Has reports whether h is in the set.
func (s HashSet) Has(h FullHash) bool {
	_, ok := s[h]
	return ok
}

// ListUpdate is one decoded list update.
//
// Deletions == nil requests a full replacement of the list. A non-nil slice
// (possibly empty) requests an incremental update: the indices address the
// list's previous prefixes in lexicographic order and are removed before
// Additions are merged.
type ListUpdate struct {
	Version   Version
	Additions PrefixSet
	Deletions []int
}

// Full reports whether u replaces the list wholesale.
func (u ListUpdate) Full() bool { return u.Deletions == nil }

// Request pairs the list version a confirmation was computed against with the
// prefixes (genuine and decoy) to send to the server.
type Request struct {
	Version  Version
	Prefixes PrefixSet
}

// Result is the server's answer for one list: the full hashes it knows for
// each requested prefix. A nil Matches map means the confirmation failed and
// nothing can be learned from it.
type Result struct {
	Version Version
	Matches map[string]HashSet
}

// Matches is the outcome of a prefix lookup. Certain lists are definitive
// hits; Requests holds the lists that need a full hash confirmation.
type Matches struct {
	Certain  map[List]struct{}
	Requests map[List]Request
}

func newMatches() Matches {
	return Matches{Certain: make(map[List]struct{}), Requests: make(map[List]Request)}
}

// IsCertain reports whether l is a definitive hit.
func (m Matches) IsCertain(l List) bool {
	_, ok := m.Certain[l]
	return ok
}

// Answer is the outcome of consulting known full hashes for one prefix.
type Answer int8

const (
	// Unknown means no confirmed full hashes are available for the prefix.
	Unknown Answer = iota
	// NotListed means the full hashes for the prefix are known and the
	// candidate is not among them.
	NotListed
	// Listed means the candidate is a confirmed full hash.
	Listed
)

func (a Answer) String() string {
	switch a {
	case NotListed:
		return "not_listed"
	case Listed:
		return "listed"
	default:
		return "unknown"
	}
}

// LookupFunc answers whether hash, matching prefix in list at version, is
// a confirmed entry.
type LookupFunc func(list List, version Version, prefix string, hash FullHash) Answer

// answerFor looks hash up in a set of confirmed hashes.
func answerFor(known HashSet, ok bool, hash FullHash) Answer {
	switch {
	case !ok:
		return Unknown
	case known.Has(hash):
		return Listed
	default:
		return NotListed
	}
}
