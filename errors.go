package sbcache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Lists when no list has been loaded yet. The
	// caller cannot judge and has to apply its own policy.
	ErrNotReady = errors.New("sbcache: no threat list data loaded")

	// ErrFingerprinting is returned by Lists when a single confirmation
	// request would reveal too many genuine prefixes of one list.
	ErrFingerprinting = errors.New("sbcache: confirmation request would fingerprint the url")

	// ErrInvalidSnapshot is wrapped by SnapshotError.
	ErrInvalidSnapshot = errors.New("sbcache: invalid snapshot")
)

// SnapshotError reports why a snapshot could not be restored.
type SnapshotError struct {
	List List
	Err  error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("restore %q: %v", string(e.List), e.Err)
}

func (e *SnapshotError) Unwrap() []error {
	errs := make([]error, 0, 2)
	errs = append(errs, ErrInvalidSnapshot)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
