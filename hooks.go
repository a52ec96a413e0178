package sbcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking. The cache invokes them
// after releasing its lock, on the caller's goroutine.
type Hooks interface {
	// An update was skipped because the caller's prior version (want) did not
	// match the stored one (have).
	StaleUpdate(list List, have, want Version)

	// An update was structurally unusable and the list was left unchanged.
	// reason ∈ {"empty_version", "prefix_size", "no_base", "deletion_range",
	// "duplicate_addition"}
	UpdateRejected(list List, reason string)

	// An update was applied. prefixes is the resulting prefix count.
	UpdateApplied(list List, version Version, full bool, prefixes int)

	// A lookup was refused because too many genuine prefixes of one list
	// would be sent in a single confirmation request.
	Fingerprinting(list List, prefixes int)

	// Full hash confirmations were dropped because the list moved on.
	StaleConfirmation(list List, version Version)

	// A persistence decorator failed to load or store a list.
	// op ∈ {"encode", "decode", "get", "set", "del", "epoch", "restore"}
	PersistError(op string, list List, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) StaleUpdate(List, Version, Version)     {}
func (NopHooks) UpdateRejected(List, string)            {}
func (NopHooks) UpdateApplied(List, Version, bool, int) {}
func (NopHooks) Fingerprinting(List, int)               {}
func (NopHooks) StaleConfirmation(List, Version)        {}
func (NopHooks) PersistError(string, List, error)       {}
