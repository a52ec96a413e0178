package compression

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/sbcache"
)

var (
	// ErrUnknownCompression means the compression tag names no codec. The
	// list's update has to be skipped for this round.
	ErrUnknownCompression = errors.New("compression: unknown compression type")

	// ErrMalformed is wrapped by every error caused by an unusable payload.
	ErrMalformed = errors.New("compression: malformed payload")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}

// ListError ties a decode failure to the list whose update it belongs to.
type ListError struct {
	List sbcache.List
	Err  error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("list %s: %v", string(e.List), e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }
