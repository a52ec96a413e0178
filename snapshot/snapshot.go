// Package snapshot holds the serializable form of one cached threat list,
// shared by the cache, the codecs and the persistence layer.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

const (
	minPrefixSize = 4
	maxPrefixSize = 32
	hashSize      = 32
)

var ErrInvalid = errors.New("snapshot: invalid")

// Group is a run of same-length prefixes, sorted and packed back to back.
type Group struct {
	Size     int    `json:"size" cbor:"1,keyasint" msgpack:"s"`
	Prefixes []byte `json:"prefixes" cbor:"2,keyasint" msgpack:"p"`
}

// Count returns the number of prefixes in the group.
func (g Group) Count() int {
	if g.Size <= 0 {
		return 0
	}
	return len(g.Prefixes) / g.Size
}

// Confirmed lists the full hashes the server returned for one prefix, packed
// 32 bytes each.
type Confirmed struct {
	Prefix []byte `json:"prefix" cbor:"1,keyasint" msgpack:"p"`
	Hashes []byte `json:"hashes" cbor:"2,keyasint" msgpack:"h"`
}

// List is the state of one threat list at a point in time.
type List struct {
	List      string      `json:"list" cbor:"1,keyasint" msgpack:"l"`
	Version   string      `json:"version" cbor:"2,keyasint" msgpack:"v"`
	UpdatedAt time.Time   `json:"updated_at" cbor:"3,keyasint" msgpack:"u"`
	Epoch     uint64      `json:"epoch" cbor:"4,keyasint" msgpack:"e"`
	Groups    []Group     `json:"groups" cbor:"5,keyasint" msgpack:"g"`
	Confirmed []Confirmed `json:"confirmed,omitempty" cbor:"6,keyasint,omitempty" msgpack:"c,omitempty"`
}

// Count returns the total number of prefixes.
func (s List) Count() int {
	n := 0
	for _, g := range s.Groups {
		n += g.Count()
	}
	return n
}

// Validate checks the structural invariants a restored list must satisfy:
// groups ordered by strictly increasing size, every group non-empty, packed
// exactly and strictly sorted; confirmed hashes packed in 32 byte units.
func (s List) Validate() error {
	if s.List == "" {
		return fmt.Errorf("%w: missing list name", ErrInvalid)
	}
	if s.Version == "" {
		return fmt.Errorf("%w: %s: missing version", ErrInvalid, s.List)
	}
	prevSize := 0
	for i, g := range s.Groups {
		if g.Size < minPrefixSize || g.Size > maxPrefixSize {
			return fmt.Errorf("%w: %s: group %d has prefix size %d", ErrInvalid, s.List, i, g.Size)
		}
		if g.Size <= prevSize {
			return fmt.Errorf("%w: %s: group %d out of order", ErrInvalid, s.List, i)
		}
		prevSize = g.Size
		if len(g.Prefixes) == 0 || len(g.Prefixes)%g.Size != 0 {
			return fmt.Errorf("%w: %s: group %d holds %d bytes for size %d",
				ErrInvalid, s.List, i, len(g.Prefixes), g.Size)
		}
		for j := g.Size; j < len(g.Prefixes); j += g.Size {
			if bytes.Compare(g.Prefixes[j-g.Size:j], g.Prefixes[j:j+g.Size]) >= 0 {
				return fmt.Errorf("%w: %s: group %d not strictly sorted", ErrInvalid, s.List, i)
			}
		}
	}
	for i, c := range s.Confirmed {
		if len(c.Prefix) < minPrefixSize || len(c.Prefix) > maxPrefixSize {
			return fmt.Errorf("%w: %s: confirmation %d has prefix size %d", ErrInvalid, s.List, i, len(c.Prefix))
		}
		if len(c.Hashes)%hashSize != 0 {
			return fmt.Errorf("%w: %s: confirmation %d holds %d hash bytes", ErrInvalid, s.List, i, len(c.Hashes))
		}
	}
	return nil
}
