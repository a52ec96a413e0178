package codec

import (
	"encoding/json"

	"github.com/unkn0wn-root/sbcache/snapshot"
)

// JSON is human-readable and the largest encoding; prefix bytes become
// base64 strings.
type JSON struct{}

var _ Codec = JSON{}

func (JSON) Name() string                            { return "json" }
func (JSON) Encode(s snapshot.List) ([]byte, error) { return json.Marshal(s) }
func (JSON) Decode(b []byte) (snapshot.List, error) {
	var s snapshot.List
	err := json.Unmarshal(b, &s)
	return s, err
}
