// Package sbcache is a local safe browsing cache. It holds versioned sets of
// SHA-256 hash prefixes per threat list, applies server list updates to them
// and classifies candidate url hashes without revealing the visited url.
//
// Components:
//   - Cache: the authoritative per-list store. One RWMutex guards all lists.
//   - Storage: the capability callers use, with four policies:
//     DummyStorage (disabled), EphemeralStorage (private cache, no
//     memoization), CachingStorage (shared prefixes and confirmations) and
//     PrefixCachingStorage (shared prefixes, private confirmations).
//   - compression: RAW and RICE decoding of list update payloads.
//   - persist: optional decorator writing list snapshots to a byte store.
//
// Lookup flow:
//
//	m, err := storage.Lists(hashes, filler) // certain hits + requests
//	res := confirmWithServer(m.Requests)    // network, not part of this module
//	storage.Set(res)                        // memoize per policy
//
// Update flow:
//
//	old := storage.ListsForUpdate()                  // list -> held version
//	ups, err := compression.DecodeListUpdates(...)   // per-list errors joined
//	storage.Update(ups, old)                         // version-gated
package sbcache
