package sbcache

import (
	"fmt"
	"time"
)

// Storage is the capability every caching policy implements. Callers invoke it
// synchronously from whichever goroutine they like.
type Storage interface {
	// Register asks to be told when the cache is usable. With wait=false the
	// callback runs immediately with the current usability. With wait=true it
	// is deferred until a pending or in-flight refresh completes.
	Register(wait bool, updated func(ok bool)) Registration

	// Lists classifies candidate full hashes. filler pads each confirmation
	// request with decoy prefixes up to that many entries.
	Lists(hashes []FullHash, filler int) (Matches, error)

	// Set feeds full hash confirmations back.
	Set(results map[List]Result)

	// ListsForUpdate returns the lists to request updates for, mapped to the
	// version held locally ("" when the list was never loaded).
	ListsForUpdate() map[List]Version

	// Update applies decoded list updates. A list whose oldVersions entry does
	// not match the stored version is skipped without error.
	Update(updates map[List]ListUpdate, oldVersions map[List]Version)

	// LastFullPrefixUpdate returns the oldest update time across lists, or
	// ok=false if any of them was never loaded.
	LastFullPrefixUpdate(lists []List) (t time.Time, ok bool)

	// Clear drops all data.
	Clear()
}

// Options tune the Core Cache. All fields are optional.
type Options struct {
	Lists []List // lists the cache is expected to hold; empty => DefaultLists

	UpdateInterval time.Duration // ListsForUpdate staleness; 0 => 30m
	RefreshAfter   time.Duration // Register(wait) refresh threshold; 0 => 1h
	MaxAge         time.Duration // data older than this is unusable; 0 => 4 weeks

	// BloomFalsePositiveRate sizes the per-list bloom pre-check.
	// 0 => 0.01, negative disables the filter.
	BloomFalsePositiveRate float64

	Now    func() time.Time // nil => time.Now
	Logger Logger           // nil => NopLogger
	Hooks  Hooks            // nil => NopHooks
}

// Policy selects how much safebrowsing data a Storage trusts and memoizes.
type Policy int

const (
	// PolicyDisabled turns safebrowsing off: nothing is ever flagged.
	PolicyDisabled Policy = iota
	// PolicyNone keeps a private cache and re-confirms every ambiguous prefix.
	PolicyNone
	// PolicyPrefix shares prefixes but keeps confirmed full hashes private.
	PolicyPrefix
	// PolicyAll shares prefixes and confirmed full hashes.
	PolicyAll
)

func (p Policy) String() string {
	switch p {
	case PolicyDisabled:
		return "disabled"
	case PolicyNone:
		return "none"
	case PolicyPrefix:
		return "prefix"
	case PolicyAll:
		return "all"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// NewStorage is the composition root for the storage policies. shared is the
// process-wide cache used by PolicyPrefix and PolicyAll; opts configures the
// private cache of PolicyNone.
func NewStorage(policy Policy, shared *Cache, opts Options) (Storage, error) {
	switch policy {
	case PolicyDisabled:
		return DummyStorage{}, nil
	case PolicyNone:
		return NewEphemeralStorage(opts)
	case PolicyPrefix:
		if shared == nil {
			return nil, fmt.Errorf("sbcache: policy %s requires a shared cache", policy)
		}
		return NewPrefixCachingStorage(shared), nil
	case PolicyAll:
		if shared == nil {
			return nil, fmt.Errorf("sbcache: policy %s requires a shared cache", policy)
		}
		return NewCachingStorage(shared), nil
	default:
		return nil, fmt.Errorf("sbcache: unknown policy %d", int(policy))
	}
}
