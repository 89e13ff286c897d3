// Package question implements the DNS question section from RFC 1035
// section 4.1.2, composed from the label and bit-width type enums.
package question

import (
	"encoding/binary"
	"fmt"

	"github.com/petrkotek/dns-forwarder/internal/dnsclass"
	"github.com/petrkotek/dns-forwarder/internal/dnstype"
	"github.com/petrkotek/dns-forwarder/internal/label"
)

// Question is a single entry of a DNS question section:
//
//	Name: a domain name, as a sequence of labels
//	Type: 2-byte record type of interest
//	Class: 2-byte class, usually IN
type Question struct {
	Name  label.Sequence
	Type  dnstype.Type
	Class dnsclass.Class
}

// New builds a Question from a dotted domain name, validating it against
// the label construction grammar.
func New(name string, t dnstype.Type, c dnsclass.Class) (Question, error) {
	seq, err := label.NewSequence(name)
	if err != nil {
		return Question{}, err
	}
	return Question{Name: seq, Type: t, Class: c}, nil
}

// SetName replaces the Question's Name, validating it against the label
// construction grammar.
func (q *Question) SetName(name string) error {
	seq, err := label.NewSequence(name)
	if err != nil {
		return err
	}
	q.Name = seq
	return nil
}

// SetType sets the Question.Type.
func (q *Question) SetType(t dnstype.Type) { q.Type = t }

// SetClass sets the Question.Class.
func (q *Question) SetClass(c dnsclass.Class) { q.Class = c }

// Encode marshals the Question as name.Encode() || u16(Type) || u16(Class).
func (q Question) Encode() ([]byte, error) {
	nameBytes, err := q.Name.Encode()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(nameBytes)+4)
	copy(buf, nameBytes)
	n := len(nameBytes)
	binary.BigEndian.PutUint16(buf[n:n+2], uint16(q.Type))
	binary.BigEndian.PutUint16(buf[n+2:n+4], uint16(q.Class))

	return buf, nil
}

// Decode parses a Question from msg starting at offset, resolving any
// compression pointers in Name against the whole message. It returns the
// Question and the offset one past its Class field. Unknown Type/Class
// numeric values are preserved rather than rejected.
func Decode(msg []byte, offset int) (Question, int, error) {
	name, next, err := label.DecodeSequence(msg, offset)
	if err != nil {
		return Question{}, 0, fmt.Errorf("question: %w", err)
	}

	if next+4 > len(msg) {
		return Question{}, 0, fmt.Errorf("question: %w: need 4 bytes for type/class at offset %d", label.ErrBufferTooShort, next)
	}

	t := dnstype.Type(binary.BigEndian.Uint16(msg[next : next+2]))
	c := dnsclass.Class(binary.BigEndian.Uint16(msg[next+2 : next+4]))

	return Question{Name: name, Type: t, Class: c}, next + 4, nil
}
