package codec

import (
	"github.com/unkn0wn-root/sbcache/internal/wire"
	"github.com/unkn0wn-root/sbcache/snapshot"
)

// Wire is the default codec: a versioned header carrying the epoch followed
// by a protobuf payload. It is the most compact of the codecs.
type Wire struct{}

var _ Codec = Wire{}

func (Wire) Name() string                            { return "wire" }
func (Wire) Encode(s snapshot.List) ([]byte, error) { return wire.Encode(s), nil }
func (Wire) Decode(b []byte) (snapshot.List, error) { return wire.Decode(b) }
