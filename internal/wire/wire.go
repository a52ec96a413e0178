// Package wire frames list snapshots for byte stores.
//
// Frame: magic(4) | ver(1) | epoch(u64 be) | plen(u32 be) | payload(plen)
//
// The payload is protobuf encoded:
//
//	1: list       bytes
//	2: version    bytes
//	3: updated    int64 (unix nanoseconds)
//	4: group      message { 1: size varint, 2: prefixes bytes }   repeated
//	5: confirmed  message { 1: prefix bytes, 2: hashes bytes }    repeated
//
// Unknown fields are skipped.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/sbcache/snapshot"
)

const version byte = 1

const hdrLen = 4 + 1 + 8 + 4

const (
	fieldList      protowire.Number = 1
	fieldVersion   protowire.Number = 2
	fieldUpdated   protowire.Number = 3
	fieldGroup     protowire.Number = 4
	fieldConfirmed protowire.Number = 5

	fieldA protowire.Number = 1 // group size, confirmed prefix
	fieldB protowire.Number = 2 // group prefixes, confirmed hashes
)

var (
	ErrCorrupt = errors.New("sbcache: corrupt snapshot")
	magic4     = [...]byte{'S', 'B', 'C', 'L'}
)

// Encode frames s. s.Epoch goes into the header.
func Encode(s snapshot.List) []byte {
	var p []byte
	p = protowire.AppendTag(p, fieldList, protowire.BytesType)
	p = protowire.AppendString(p, s.List)
	p = protowire.AppendTag(p, fieldVersion, protowire.BytesType)
	p = protowire.AppendString(p, s.Version)
	if !s.UpdatedAt.IsZero() {
		p = protowire.AppendTag(p, fieldUpdated, protowire.VarintType)
		p = protowire.AppendVarint(p, uint64(s.UpdatedAt.UnixNano()))
	}
	for _, g := range s.Groups {
		var m []byte
		m = protowire.AppendTag(m, fieldA, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(g.Size))
		m = protowire.AppendTag(m, fieldB, protowire.BytesType)
		m = protowire.AppendBytes(m, g.Prefixes)
		p = protowire.AppendTag(p, fieldGroup, protowire.BytesType)
		p = protowire.AppendBytes(p, m)
	}
	for _, c := range s.Confirmed {
		var m []byte
		m = protowire.AppendTag(m, fieldA, protowire.BytesType)
		m = protowire.AppendBytes(m, c.Prefix)
		m = protowire.AppendTag(m, fieldB, protowire.BytesType)
		m = protowire.AppendBytes(m, c.Hashes)
		p = protowire.AppendTag(p, fieldConfirmed, protowire.BytesType)
		p = protowire.AppendBytes(p, m)
	}

	var buf bytes.Buffer
	buf.Grow(hdrLen + len(p))
	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte
	binary.BigEndian.PutUint64(u8[:], s.Epoch)
	buf.Write(u8[:])
	binary.BigEndian.PutUint32(u4[:], uint32(len(p)))
	buf.Write(u4[:])

	buf.Write(p)
	return buf.Bytes()
}

// Epoch reads the epoch from the header without decoding the payload.
func Epoch(b []byte) (uint64, error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, ErrCorrupt
	}
	return binary.BigEndian.Uint64(b[5:13]), nil
}

// Decode parses a frame produced by Encode. Byte slices of the result alias b.
func Decode(b []byte) (snapshot.List, error) {
	epoch, err := Epoch(b)
	if err != nil {
		return snapshot.List{}, err
	}
	plen := int(binary.BigEndian.Uint32(b[13:17]))
	if plen != len(b)-hdrLen {
		return snapshot.List{}, ErrCorrupt
	}

	s := snapshot.List{Epoch: epoch}
	p := b[hdrLen:]
	for len(p) > 0 {
		num, typ, n := protowire.ConsumeTag(p)
		if n < 0 {
			return snapshot.List{}, ErrCorrupt
		}
		p = p[n:]

		switch {
		case num == fieldList && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(p)
			if n < 0 {
				return snapshot.List{}, ErrCorrupt
			}
			s.List, p = v, p[n:]
		case num == fieldVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(p)
			if n < 0 {
				return snapshot.List{}, ErrCorrupt
			}
			s.Version, p = v, p[n:]
		case num == fieldUpdated && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(p)
			if n < 0 {
				return snapshot.List{}, ErrCorrupt
			}
			s.UpdatedAt, p = time.Unix(0, int64(v)), p[n:]
		case num == fieldGroup && typ == protowire.BytesType:
			m, n := protowire.ConsumeBytes(p)
			if n < 0 {
				return snapshot.List{}, ErrCorrupt
			}
			g, err := decodeGroup(m)
			if err != nil {
				return snapshot.List{}, err
			}
			s.Groups, p = append(s.Groups, g), p[n:]
		case num == fieldConfirmed && typ == protowire.BytesType:
			m, n := protowire.ConsumeBytes(p)
			if n < 0 {
				return snapshot.List{}, ErrCorrupt
			}
			c, err := decodeConfirmed(m)
			if err != nil {
				return snapshot.List{}, err
			}
			s.Confirmed, p = append(s.Confirmed, c), p[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, p)
			if n < 0 {
				return snapshot.List{}, ErrCorrupt
			}
			p = p[n:]
		}
	}
	return s, nil
}

func decodeGroup(m []byte) (snapshot.Group, error) {
	var g snapshot.Group
	for len(m) > 0 {
		num, typ, n := protowire.ConsumeTag(m)
		if n < 0 {
			return g, ErrCorrupt
		}
		m = m[n:]
		switch {
		case num == fieldA && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(m)
			if n < 0 || v > 0xFFFF {
				return g, ErrCorrupt
			}
			g.Size, m = int(v), m[n:]
		case num == fieldB && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(m)
			if n < 0 {
				return g, ErrCorrupt
			}
			g.Prefixes, m = v, m[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, m)
			if n < 0 {
				return g, ErrCorrupt
			}
			m = m[n:]
		}
	}
	return g, nil
}

func decodeConfirmed(m []byte) (snapshot.Confirmed, error) {
	var c snapshot.Confirmed
	for len(m) > 0 {
		num, typ, n := protowire.ConsumeTag(m)
		if n < 0 {
			return c, ErrCorrupt
		}
		m = m[n:]
		switch {
		case num == fieldA && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(m)
			if n < 0 {
				return c, ErrCorrupt
			}
			c.Prefix, m = v, m[n:]
		case num == fieldB && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(m)
			if n < 0 {
				return c, ErrCorrupt
			}
			c.Hashes, m = v, m[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, m)
			if n < 0 {
				return c, ErrCorrupt
			}
			m = m[n:]
		}
	}
	return c, nil
}
