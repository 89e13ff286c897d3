// Package record implements the DNS resource-record format from RFC 1035
// section 3.2.1, composed from the label and bit-width type enums.
package record

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/petrkotek/dns-forwarder/internal/dnsclass"
	"github.com/petrkotek/dns-forwarder/internal/dnstype"
	"github.com/petrkotek/dns-forwarder/internal/label"
)

// fixedFieldsSize is the byte length of Type + Class + TTL + RDLENGTH.
const fixedFieldsSize = 2 + 2 + 4 + 2

// ResourceRecord is a single answer-section entry: a name paired with
// typed, classed, opaque data good for TTL seconds. Data is never
// interpreted per record type here — callers only relay or synthesize it.
type ResourceRecord struct {
	Name  label.Sequence
	Type  dnstype.Type
	Class dnsclass.Class
	TTL   int32
	Data  []byte
}

// NewARecord builds an A/IN ResourceRecord carrying ip as 4 bytes of RDATA.
// name is validated against the label construction grammar, so this
// constructor is for names a caller is building fresh, not ones decoded
// off the wire (see NewARecordFromSequence for that case).
func NewARecord(name string, ttl int32, ip net.IP) (ResourceRecord, error) {
	seq, err := label.NewSequence(name)
	if err != nil {
		return ResourceRecord{}, err
	}
	return newARecord(seq, ttl, ip)
}

// NewARecordFromSequence builds an A/IN ResourceRecord from a name that
// has already been decoded (e.g. a Question's Name off an incoming
// datagram). The label construction grammar only applies to names built
// from scratch; a name that already arrived over the wire is reused as
// is, label characters and all.
func NewARecordFromSequence(name label.Sequence, ttl int32, ip net.IP) (ResourceRecord, error) {
	return newARecord(name, ttl, ip)
}

func newARecord(name label.Sequence, ttl int32, ip net.IP) (ResourceRecord, error) {
	v4 := ip.To4()
	if v4 == nil {
		return ResourceRecord{}, fmt.Errorf("record: %q is not an IPv4 address", ip)
	}
	return ResourceRecord{Name: name, Type: dnstype.A, Class: dnsclass.IN, TTL: ttl, Data: v4}, nil
}

// Encode marshals the record as name.Encode() || u16(Type) || u16(Class) ||
// i32(TTL) || u16(len(Data)) || Data.
func (r ResourceRecord) Encode() ([]byte, error) {
	nameBytes, err := r.Name.Encode()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(nameBytes)+fixedFieldsSize)
	copy(buf, nameBytes)
	offset := len(nameBytes)

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(r.Type))
	offset += 2
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(r.Class))
	offset += 2
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(r.TTL))
	offset += 4
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(r.Data)))

	buf = append(buf, r.Data...)
	return buf, nil
}

// Decode parses a ResourceRecord from msg starting at offset, resolving
// any compression pointers in Name against the whole message. It returns
// the record and the offset one past its Data.
func Decode(msg []byte, offset int) (ResourceRecord, int, error) {
	name, next, err := label.DecodeSequence(msg, offset)
	if err != nil {
		return ResourceRecord{}, 0, fmt.Errorf("record: %w", err)
	}

	if next+fixedFieldsSize > len(msg) {
		return ResourceRecord{}, 0, fmt.Errorf("record: %w: need %d fixed-field bytes at offset %d", label.ErrBufferTooShort, fixedFieldsSize, next)
	}

	rtype := dnstype.Type(binary.BigEndian.Uint16(msg[next : next+2]))
	next += 2
	rclass := dnsclass.Class(binary.BigEndian.Uint16(msg[next : next+2]))
	next += 2
	ttl := int32(binary.BigEndian.Uint32(msg[next : next+4]))
	next += 4
	rdlength := int(binary.BigEndian.Uint16(msg[next : next+2]))
	next += 2

	if next+rdlength > len(msg) {
		return ResourceRecord{}, 0, fmt.Errorf("record: %w: need %d rdata bytes at offset %d", label.ErrBufferTooShort, rdlength, next)
	}
	data := make([]byte, rdlength)
	copy(data, msg[next:next+rdlength])
	next += rdlength

	return ResourceRecord{Name: name, Type: rtype, Class: rclass, TTL: ttl, Data: data}, next, nil
}
