// Package label implements the label-sequence codec for DNS domain names:
// RFC 1035 section 3.1 length-prefixed labels and section 4.1.4 message
// compression pointers.
package label

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLabelLength is the largest a single label may be, in bytes.
const MaxLabelLength = 63

// MaxNameLength is the largest a dotted domain name may be, in bytes.
const MaxNameLength = 255

var (
	ErrBufferTooShort    = errors.New("label: buffer too short")
	ErrUnknownLabelFlags = errors.New("label: reserved top-bit flag combination")
	ErrPointerOutOfRange = errors.New("label: compression pointer target out of range")
	ErrPointerLoop       = errors.New("label: compression pointer revisits a seen offset")
	ErrInvalidLabel      = errors.New("label: label violates naming grammar")
)

// grammar is the construction-time label grammar: a letter, optionally
// followed by letters/digits/hyphens, ending in a letter. A single letter
// label is valid; the grammar collapses to just the first alternative.
var grammar = regexp.MustCompile(`^[A-Za-z]([A-Za-z0-9-]*[A-Za-z])?$`)

// Label is a single raw wire label, without its length prefix.
type Label []byte

// Sequence is an ordered list of labels forming a domain name. The empty
// Sequence is the root name.
type Sequence []Label

// NewSequence builds a Sequence from a dotted name such as "google.com",
// validating each label against the construction-time grammar. An empty
// string or a bare "." yields the root Sequence.
func NewSequence(name string) (Sequence, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return Sequence{}, nil
	}

	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name %q exceeds %d bytes", ErrInvalidLabel, name, MaxNameLength)
	}

	parts := strings.Split(name, ".")
	seq := make(Sequence, 0, len(parts))
	for _, part := range parts {
		if err := validateLabel(part); err != nil {
			return nil, err
		}
		seq = append(seq, Label(part))
	}
	return seq, nil
}

func validateLabel(s string) error {
	if len(s) < 1 || len(s) > MaxLabelLength {
		return fmt.Errorf("%w: label %q has length %d, want [1, %d]", ErrInvalidLabel, s, len(s), MaxLabelLength)
	}
	if !grammar.MatchString(s) {
		return fmt.Errorf("%w: label %q does not match the naming grammar", ErrInvalidLabel, s)
	}
	return nil
}

// String renders the Sequence as a dotted domain name.
func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, l := range s {
		parts[i] = string(l)
	}
	return strings.Join(parts, ".")
}

// Encode packs the Sequence into wire format: each label as a length byte
// followed by its bytes, terminated by a zero byte. Encode never emits
// compression pointers.
func (s Sequence) Encode() ([]byte, error) {
	var buf []byte
	for _, l := range s {
		if len(l) == 0 || len(l) > MaxLabelLength {
			return nil, fmt.Errorf("%w: label length %d exceeds [1, %d]", ErrInvalidLabel, len(l), MaxLabelLength)
		}
		buf = append(buf, byte(len(l)))
		buf = append(buf, l...)
	}
	buf = append(buf, 0x00)
	return buf, nil
}

// DecodeSequence decodes a label Sequence from msg starting at offset,
// resolving RFC 1035 section 4.1.4 compression pointers as encountered.
// It returns the decoded Sequence and the offset one past the end of the
// sequence as seen by the caller (one past the zero byte, or one past a
// pointer's two bytes if the sequence ends in a pointer). Labels are
// returned as raw bytes; the construction-time grammar is not enforced
// on decoded input.
func DecodeSequence(msg []byte, offset int) (Sequence, int, error) {
	visited := map[int]bool{offset: true}
	return decodeAt(msg, offset, visited)
}

func decodeAt(msg []byte, offset int, visited map[int]bool) (Sequence, int, error) {
	var seq Sequence
	pos := offset

	for {
		if pos >= len(msg) {
			return nil, 0, fmt.Errorf("%w: label flags at offset %d", ErrBufferTooShort, pos)
		}

		flags := msg[pos] & 0xC0
		switch flags {
		case 0x00:
			length := int(msg[pos])
			pos++
			if length == 0 {
				return seq, pos, nil
			}
			if pos+length > len(msg) {
				return nil, 0, fmt.Errorf("%w: label of length %d at offset %d", ErrBufferTooShort, length, pos)
			}
			seq = append(seq, Label(msg[pos:pos+length]))
			pos += length

		case 0xC0:
			if pos+1 >= len(msg) {
				return nil, 0, fmt.Errorf("%w: pointer at offset %d", ErrBufferTooShort, pos)
			}
			target := int(binary.BigEndian.Uint16(msg[pos:pos+2]) & 0x3FFF)
			if target >= len(msg) {
				return nil, 0, fmt.Errorf("%w: pointer target %d, message length %d", ErrPointerOutOfRange, target, len(msg))
			}
			if visited[target] {
				return nil, 0, fmt.Errorf("%w: pointer target %d", ErrPointerLoop, target)
			}
			visited[target] = true

			tail, _, err := decodeAt(msg, target, visited)
			if err != nil {
				return nil, 0, err
			}
			seq = append(seq, tail...)
			return seq, pos + 2, nil

		default:
			return nil, 0, fmt.Errorf("%w: flags %02b at offset %d", ErrUnknownLabelFlags, flags>>6, pos)
		}
	}
}
