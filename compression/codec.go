// Package compression turns the addition and removal sets of threat list
// updates into hash prefixes and deletion indices.
//
// Payloads come straight off the network. Every decode path returns an
// error instead of panicking, and a caller that gets one must treat the
// whole list update as not applied for this round.
package compression

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/unkn0wn-root/sbcache"
	"github.com/unkn0wn-root/sbcache/internal/rice"
)

// Codec decodes one compression format.
type Codec interface {
	Name() string
	DecodeAdditions(set ThreatEntrySet) (sbcache.PrefixSet, error)
	// DecodeDeletions returns sorted, unique indices.
	DecodeDeletions(set ThreatEntrySet) ([]int, error)
}

// For returns the codec registered under tag.
func For(tag string) (Codec, error) {
	switch tag {
	case Raw:
		return RawCodec{}, nil
	case Rice:
		return RiceCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, tag)
	}
}

var (
	_ Codec = RawCodec{}
	_ Codec = RiceCodec{}
)

// RawCodec reads prefixes and indices stored verbatim.
type RawCodec struct{}

func (RawCodec) Name() string { return Raw }

func (RawCodec) DecodeAdditions(set ThreatEntrySet) (sbcache.PrefixSet, error) {
	raw := set.RawHashes
	if raw == nil || raw.PrefixSize == nil {
		return nil, malformed("raw additions without rawHashes.prefixSize")
	}
	size := *raw.PrefixSize
	if size < sbcache.MinPrefixSize || size > sbcache.MaxPrefixSize {
		return nil, malformed("prefix size %d", size)
	}
	blob, err := base64.StdEncoding.DecodeString(raw.RawHashes)
	if err != nil {
		return nil, malformed("raw hashes: %v", err)
	}
	if len(blob)%size != 0 {
		return nil, malformed("%d bytes of raw hashes for prefix size %d", len(blob), size)
	}
	out := make(sbcache.PrefixSet, len(blob)/size)
	for i := 0; i < len(blob); i += size {
		out.Add(blob[i : i+size])
	}
	return out, nil
}

func (RawCodec) DecodeDeletions(set ThreatEntrySet) ([]int, error) {
	if set.RawIndices == nil {
		return nil, malformed("raw removals without rawIndices")
	}
	return normalizeIndices(set.RawIndices)
}

// RiceCodec reads Golomb-Rice coded 32-bit prefixes and indices.
type RiceCodec struct{}

func (RiceCodec) Name() string { return Rice }

// DecodeAdditions packs every decoded value into a four byte prefix, least
// significant byte first.
func (RiceCodec) DecodeAdditions(set ThreatEntrySet) (sbcache.PrefixSet, error) {
	if set.RiceHashes == nil {
		return nil, malformed("rice additions without riceHashes")
	}
	ints, err := decodeRice(set.RiceHashes)
	if err != nil {
		return nil, err
	}
	out := make(sbcache.PrefixSet, len(ints))
	for _, v := range ints {
		if v < 0 || v > math.MaxUint32 {
			return nil, malformed("rice value %d does not fit 32 bits", v)
		}
		out.Add([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	}
	return out, nil
}

func (RiceCodec) DecodeDeletions(set ThreatEntrySet) ([]int, error) {
	if set.RiceIndices == nil {
		return nil, malformed("rice removals without riceIndices")
	}
	ints, err := decodeRice(set.RiceIndices)
	if err != nil {
		return nil, err
	}
	idx := make([]int, 0, len(ints))
	for _, v := range ints {
		if v > math.MaxInt32 {
			return nil, malformed("rice index %d out of range", v)
		}
		idx = append(idx, int(v))
	}
	return normalizeIndices(idx)
}

func decodeRice(enc *RiceDeltaEncoding) ([]int64, error) {
	if enc.RiceParameter == nil || enc.NumEntries == nil {
		return nil, malformed("rice encoding without riceParameter or numEntries")
	}
	var first int64
	if enc.FirstValue != nil {
		v, err := strconv.ParseInt(*enc.FirstValue, 10, 64)
		if err != nil {
			return nil, malformed("first value %q: %v", *enc.FirstValue, err)
		}
		first = v
	}
	data, err := base64.StdEncoding.DecodeString(enc.EncodedData)
	if err != nil {
		return nil, malformed("encoded data: %v", err)
	}
	ints, err := rice.Decode(*enc.RiceParameter, &first, data, *enc.NumEntries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return ints, nil
}

// normalizeIndices sorts and deduplicates a copy of idx.
func normalizeIndices(idx []int) ([]int, error) {
	out := make([]int, 0, len(idx))
	for _, i := range idx {
		if i < 0 {
			return nil, malformed("negative index %d", i)
		}
		out = append(out, i)
	}
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n], nil
}
