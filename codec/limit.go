package codec

import (
	"fmt"

	"github.com/unkn0wn-root/sbcache/snapshot"
)

// Limit wraps another codec and refuses to decode payloads larger than
// MaxDecode bytes. MaxDecode <= 0 disables the check.
//
// Useful when the provider is shared with other writers.
type Limit struct {
	Inner     Codec
	MaxDecode int
}

var _ Codec = Limit{}

func (c Limit) Name() string                            { return c.Inner.Name() }
func (c Limit) Encode(s snapshot.List) ([]byte, error) { return c.Inner.Encode(s) }
func (c Limit) Decode(b []byte) (snapshot.List, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		return snapshot.List{}, fmt.Errorf("codec %s: payload too large: %d > %d", c.Inner.Name(), len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
