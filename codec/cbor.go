package codec

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/unkn0wn-root/sbcache/snapshot"
)

// CBOR serializes snapshots using fxamacker/cbor with integer map keys.
// The zero value is NOT ready to use. Construct with NewCBOR or MustCBOR.
//
// deterministic=true selects RFC 8949 Core Deterministic encoding, giving
// byte-for-byte stable output for identical snapshots.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec = CBOR{}

// Decode limits. A full threat list holds a few hundred thousand prefixes
// packed into a handful of byte strings, so element counts stay small.
const (
	cborMaxArrayElements = 1 << 20
	cborMaxMapPairs      = 64
	cborMaxNestedLevels  = 8
)

// NewCBOR constructs a CBOR codec. Times are encoded as RFC3339Nano.
func NewCBOR(deterministic bool) (CBOR, error) {
	var eo cbor.EncOptions
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	} else {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR{}, err
	}
	dm, err := cbor.DecOptions{
		MaxArrayElements: cborMaxArrayElements,
		MaxMapPairs:      cborMaxMapPairs,
		MaxNestedLevels:  cborMaxNestedLevels,
	}.DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em, dec: dm}, nil
}

// MustCBOR is like NewCBOR but panics on error.
func MustCBOR(deterministic bool) CBOR {
	c, err := NewCBOR(deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR) Name() string { return "cbor" }

func (c CBOR) Encode(s snapshot.List) ([]byte, error) {
	return c.enc.Marshal(s)
}

func (c CBOR) Decode(b []byte) (snapshot.List, error) {
	var s snapshot.List
	err := c.dec.Unmarshal(b, &s)
	return s, err
}
