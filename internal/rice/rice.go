// Package rice decodes Golomb-Rice coded integer sequences as used by the
// RICE compression of threat list updates.
//
// Each value is stored as the delta from its predecessor. A delta is a unary
// quotient q (a run of 1 bits closed by a 0 bit) followed by a k-bit binary
// remainder r, giving delta = q<<k + r. Bits are consumed least significant
// first within every byte, and the remainder is read least significant bit
// first as well.
package rice

import (
	"fmt"
	"math"
)

// MaxParameter is the exclusive upper bound for the Rice parameter k.
const MaxParameter = 32

// Decoder reads count deltas from data and accumulates them on top of an
// initial value. A Decoder is not safe for concurrent use; decode calls are
// expected to own their instance.
type Decoder struct {
	k       uint
	initial int64
	data    []byte
	count   int

	pos uint64 // bit cursor

	done bool
	ints []int64
	err  error
}

// New validates the parameters and returns a decoder. initial may be nil only
// when count is zero.
func New(k int, initial *int64, data []byte, count int) (*Decoder, error) {
	if k < 0 || k >= MaxParameter {
		str := fmt.Sprintf("rice parameter %d is outside [0, %d)", k, MaxParameter)
		return nil, makeError(ErrInvalidParameter, str)
	}
	if count < 0 {
		str := fmt.Sprintf("negative entry count %d", count)
		return nil, makeError(ErrInvalidParameter, str)
	}
	if initial == nil && count != 0 {
		str := fmt.Sprintf("%d entries requested without an initial value", count)
		return nil, makeError(ErrInvalidParameter, str)
	}
	// every code is at least k+1 bits long
	if maxCount := uint64(len(data)) * 8 / uint64(k+1); uint64(count) > maxCount {
		str := fmt.Sprintf("%d entries cannot fit in %d bytes with k=%d", count, len(data), k)
		return nil, makeError(ErrInvalidCompressedData, str)
	}
	d := &Decoder{k: uint(k), data: data, count: count}
	if initial != nil {
		d.initial = *initial
	}
	return d, nil
}

// Count returns the number of values the decoder produces.
func (d *Decoder) Count() int { return d.count }

// Decoded returns the reconstructed values v_1..v_count, excluding the
// initial value. The first call reads the bitstream; later calls return the
// memoized result (or error) without touching it again.
func (d *Decoder) Decoded() ([]int64, error) {
	if !d.done {
		d.ints, d.err = d.decode()
		d.done = true
	}
	return d.ints, d.err
}

func (d *Decoder) decode() ([]int64, error) {
	out := make([]int64, 0, d.count)
	if d.count == 0 {
		return out, nil
	}

	last := d.initial
	for i := 0; i < d.count; i++ {
		delta, err := d.readDelta()
		if err != nil {
			return nil, err
		}
		if last > 0 && delta > math.MaxInt64-last {
			str := fmt.Sprintf("value %d overflows after adding delta %d", last, delta)
			return nil, makeError(ErrOverflow, str)
		}
		last += delta
		out = append(out, last)
	}

	// The final bit read must live in the final byte of the buffer.
	lastByte := (d.pos - 1) / 8
	if lastByte != uint64(len(d.data))-1 {
		str := fmt.Sprintf("decoding ended in byte %d of %d", lastByte+1, len(d.data))
		return nil, makeError(ErrInvalidCompressedData, str)
	}
	return out, nil
}

// readDelta reads one quotient/remainder pair and returns q<<k + r.
func (d *Decoder) readDelta() (int64, error) {
	q, err := d.readUnary()
	if err != nil {
		return 0, err
	}
	r, err := d.readBits(d.k)
	if err != nil {
		return 0, err
	}

	if q > math.MaxInt64>>d.k {
		str := fmt.Sprintf("quotient %d overflows with k=%d", q, d.k)
		return 0, makeError(ErrOverflow, str)
	}
	shifted := q << d.k
	if r > math.MaxInt64-shifted {
		str := fmt.Sprintf("remainder %d overflows quotient part %d", r, shifted)
		return 0, makeError(ErrOverflow, str)
	}
	return shifted + r, nil
}

func (d *Decoder) readBit() (bool, error) {
	byteIdx := d.pos / 8
	if byteIdx >= uint64(len(d.data)) {
		str := fmt.Sprintf("bitstream exhausted after %d bits", d.pos)
		return false, makeError(ErrInvalidCompressedData, str)
	}
	bit := d.pos % 8
	d.pos++
	return (d.data[byteIdx]>>bit)&1 == 1, nil
}

func (d *Decoder) readUnary() (int64, error) {
	var q int64
	for {
		one, err := d.readBit()
		if err != nil {
			return 0, err
		}
		if !one {
			return q, nil
		}
		if q == math.MaxInt64 {
			return 0, makeError(ErrOverflow, "unary quotient overflows")
		}
		q++
	}
}

// readBits reads n bits, least significant first.
func (d *Decoder) readBits(n uint) (int64, error) {
	var v int64
	for i := uint(0); i < n; i++ {
		one, err := d.readBit()
		if err != nil {
			return 0, err
		}
		if one {
			v |= 1 << i
		}
	}
	return v, nil
}

// Decode is a convenience wrapper around New and Decoded.
func Decode(k int, initial *int64, data []byte, count int) ([]int64, error) {
	d, err := New(k, initial, data, count)
	if err != nil {
		return nil, err
	}
	return d.Decoded()
}
