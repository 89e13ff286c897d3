// Package bitfield packs and unpacks a fixed, ordered schema of named
// bit-width integer fields into big-endian bytes.
//
// This is the generalization the header codec used to do by hand, one
// sibling method per flag (see internal/header): a single algorithm
// parameterized by a Schema, rather than a bit-twiddling method per field
// repeated across every record that happens to be bit-packed.
package bitfield

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned by Encode when a field value does not fit in
// its declared width.
var ErrOutOfRange = errors.New("bitfield: value out of range for field width")

// ErrBufferTooShort is returned by Decode when the buffer does not hold
// enough bytes, starting at the given offset, to satisfy the schema.
var ErrBufferTooShort = errors.New("bitfield: buffer too short")

// Field names one bit-width integer in a Schema. Width must be positive;
// it need not be a multiple of 8, and need not divide evenly into a byte
// across the whole schema (the final byte is zero-padded on the right).
type Field struct {
	Name  string
	Width int
}

// Schema is a fixed ordered list of fields, declared once per record kind
// (see header.schema for the 12-byte DNS header).
type Schema []Field

// TotalWidth returns the sum of all field widths, in bits.
func (s Schema) TotalWidth() int {
	total := 0
	for _, f := range s {
		total += f.Width
	}
	return total
}

// ByteLen returns the number of bytes required to hold TotalWidth bits,
// rounding up.
func (s Schema) ByteLen() int {
	return (s.TotalWidth() + 7) / 8
}

// Encode concatenates values, in schema order, high-order bit first, into
// a big-endian byte slice. If the total width is not a multiple of 8 the
// final byte is padded on the right with zero bits.
//
// Encode fails with ErrOutOfRange if any field value is negative or does
// not fit in its declared width.
func (s Schema) Encode(values map[string]int64) ([]byte, error) {
	buf := make([]byte, s.ByteLen())
	bitPos := 0

	for _, f := range s {
		v, ok := values[f.Name]
		if !ok {
			return nil, fmt.Errorf("bitfield: missing value for field %q", f.Name)
		}
		max := int64(1)<<uint(f.Width) - 1
		if v < 0 || v > max {
			return nil, fmt.Errorf("%w: field %q value %d exceeds width %d (max %d)", ErrOutOfRange, f.Name, v, f.Width, max)
		}
		for i := f.Width - 1; i >= 0; i-- {
			bit := byte((v >> uint(i)) & 1)
			byteIdx := bitPos / 8
			shift := 7 - uint(bitPos%8)
			buf[byteIdx] |= bit << shift
			bitPos++
		}
	}

	return buf, nil
}

// Decode reads fields, in schema order, MSB-first starting at offset, and
// returns the decoded values together with the next offset
// (offset + ByteLen()).
//
// Decode requires at least ByteLen() bytes available from offset; it
// fails with ErrBufferTooShort otherwise.
func (s Schema) Decode(buf []byte, offset int) (map[string]int64, int, error) {
	need := s.ByteLen()
	if offset < 0 || offset+need > len(buf) {
		return nil, 0, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBufferTooShort, need, offset, len(buf)-offset)
	}

	values := make(map[string]int64, len(s))
	bitPos := offset * 8

	for _, f := range s {
		var v int64
		for i := 0; i < f.Width; i++ {
			byteIdx := bitPos / 8
			shift := 7 - uint(bitPos%8)
			bit := (buf[byteIdx] >> shift) & 1
			v = (v << 1) | int64(bit)
			bitPos++
		}
		values[f.Name] = v
	}

	return values, offset + need, nil
}
