package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/sbcache/snapshot"
)

// Msgpack serializes snapshots using vmihailenco/msgpack/v5 with compact
// integers. The zero value is ready to use.
type Msgpack struct{}

var _ Codec = Msgpack{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Encode(s snapshot.List) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack) Decode(b []byte) (snapshot.List, error) {
	var s snapshot.List
	err := msgpack.Unmarshal(b, &s)
	return s, err
}
