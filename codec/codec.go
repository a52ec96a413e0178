// Package codec serializes list snapshots for byte stores.
package codec

import "github.com/unkn0wn-root/sbcache/snapshot"

// Codec encodes/decodes list snapshots to []byte for storage. The epoch
// travels inside the encoded form.
type Codec interface {
	Name() string
	Encode(snapshot.List) ([]byte, error)
	Decode([]byte) (snapshot.List, error)
}
