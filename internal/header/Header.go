// Package header implements the 12-byte DNS message header from RFC 1035
// section 4.1.1, bit-packed via internal/bitfield.
package header

import (
	"crypto/rand"
	"fmt"
	"math"

	"github.com/petrkotek/dns-forwarder/internal/bitfield"
	"github.com/petrkotek/dns-forwarder/internal/utils"
)

/*
DNS packets are sent using UDP transport and are limited to 512 bytes.

DNS is quite convenient in the sense that queries and responses use the same format.

On a high level, a DNS packet looks as follows:

| Section            | Size     | Type              | Purpose                                                                                                |
| ------------------ | -------- | ----------------- | ------------------------------------------------------------------------------------------------------------------------------------------------------------------------------------- |
| Header             | 12 Bytes | Header            | Information about the query/response.                                                                  |
| Question Section   | Variable | List of Questions | In practice only a single question indicating the query name (domain) and the record type of interest. |
| Answer Section      | Variable | List of Records   | The relevant records of the requested type.                                                            |

https://www.rfc-editor.org/rfc/rfc1035#section-4.1
*/

// schema is the ordered field layout of the 96-bit DNS header from
// RFC 1035 section 4.1.1, expressed as a bitfield.Schema so pack/unpack
// is one algorithm shared by any bit-packed record, rather than a
// hand-written mask per flag repeated per record kind.
var schema = bitfield.Schema{
	{Name: "packet_identifier", Width: 16},
	{Name: "query_response", Width: 1},
	{Name: "operation_code", Width: 4},
	{Name: "authoritative_answer", Width: 1},
	{Name: "truncation", Width: 1},
	{Name: "recursion_desired", Width: 1},
	{Name: "recursion_available", Width: 1},
	{Name: "reserved", Width: 3},
	{Name: "response_code", Width: 4},
	{Name: "question_count", Width: 16},
	{Name: "answer_record_count", Width: 16},
	{Name: "authority_record_count", Width: 16},
	{Name: "additional_record_count", Width: 16},
}

// Size is the fixed wire length of a Header, in bytes.
const Size = 12

// Opcode represents a DNS header opcode (4 bits)
type Opcode uint8

const (
	Query  Opcode = iota // Standard query (QUERY)
	IQuery               // Inverse query (IQUERY)
	Status               // Server status request (STATUS)
	// 3-15 reserved for future use
)

// ResponseCode represents a DNS response code (4 bits)
type ResponseCode uint8

const (
	NoError        ResponseCode = iota // No error condition
	FormatError                        // Format error
	ServerFailure                      // Server failure
	NameError                          // Name error (domain doesn't exist)
	NotImplemented                     // Not implemented
	Refused                            // Operation refused
	// 6-15 reserved for future use
)

func (code ResponseCode) String() string {
	switch code {
	case NoError:
		return "NoError"
	case FormatError:
		return "FormatError"
	case ServerFailure:
		return "ServerFailure"
	case NameError:
		return "NameError"
	case NotImplemented:
		return "NotImplemented"
	case Refused:
		return "Refused"
	case 6, 7, 8, 9, 10, 11, 12, 13, 14, 15:
		return "ReservedForFutureUse"
	default:
		return "Unknown"
	}
}

// Header represents the fixed 12-byte DNS message header.
type Header struct {
	ID      uint16
	QR      bool
	Opcode  Opcode
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       uint8
	RCODE   ResponseCode
	QDCOUNT uint16
	ANCOUNT uint16
	NSCOUNT uint16
	ARCOUNT uint16
}

// SetRandomID sets a random Header.ID which is used by DNS programs to
// track transactions. Per RFC 1035 this MUST be unpredictable, so it is
// generated via crypto/rand rather than math/rand.
func (h *Header) SetRandomID() error {
	var buf [2]byte
	n, err := rand.Read(buf[:])
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("random id: expected %d bytes, got %d", len(buf), n)
	}
	h.ID = uint16(buf[0])<<8 | uint16(buf[1])
	return nil
}

// GetMessageID returns the Header.ID which uniquely identifies this DNS message.
func (h *Header) GetMessageID() uint16 { return h.ID }

// IsQuery returns true if the header represents a query.
func (h *Header) IsQuery() bool { return !h.QR }

// IsResponse returns true if the header represents a response.
func (h *Header) IsResponse() bool { return h.QR }

// SetQRFlag sets the Query/Response flag (QR).
func (h *Header) SetQRFlag(isResponse bool) { h.QR = isResponse }

// GetOpcode returns the Opcode.
func (h *Header) GetOpcode() Opcode { return h.Opcode }

// SetOpcode sets the Opcode.
func (h *Header) SetOpcode(opcode Opcode) { h.Opcode = opcode }

// IsAA returns whether the Authoritative Answer flag is set.
func (h *Header) IsAA() bool { return h.AA }

// SetAA sets the Authoritative Answer flag.
func (h *Header) SetAA(isAA bool) { h.AA = isAA }

// IsTC returns whether the Truncation flag is set.
func (h *Header) IsTC() bool { return h.TC }

// SetTC sets the Truncation flag.
func (h *Header) SetTC(isTruncated bool) { h.TC = isTruncated }

// IsRD returns whether the Recursion Desired flag is set.
func (h *Header) IsRD() bool { return h.RD }

// SetRD sets the Recursion Desired flag.
func (h *Header) SetRD(recursionDesired bool) { h.RD = recursionDesired }

// IsRA returns whether the Recursion Available flag is set.
func (h *Header) IsRA() bool { return h.RA }

// SetRA sets the Recursion Available flag.
func (h *Header) SetRA(recursionAvailable bool) { h.RA = recursionAvailable }

// GetZ returns the reserved (Z) field value.
func (h *Header) GetZ() uint8 { return h.Z }

// SetZ sets the reserved (Z) field value. RFC 1035 reserves this field
// and requires it to be zero in constructed headers; SetZ still accepts
// any 3-bit value so a decoded-then-reencoded header can round-trip a
// nonzero Z seen on the wire.
func (h *Header) SetZ(z int) error {
	if z < 0 || z > 0b111 {
		return fmt.Errorf("z with value %d would overflow a 3-bit field (max %d)", z, 0b111)
	}
	h.Z = uint8(z)
	return nil
}

// GetRCODE returns the Response Code.
func (h *Header) GetRCODE() ResponseCode { return h.RCODE }

// SetRCODE sets the Response Code.
func (h *Header) SetRCODE(rcode ResponseCode) { h.RCODE = rcode }

// GetQDCOUNT returns the Question Count.
func (h *Header) GetQDCOUNT() uint16 { return h.QDCOUNT }

// SetQDCOUNT sets the Question Count.
func (h *Header) SetQDCOUNT(qdcount int) error {
	if utils.WouldOverflowUint16(qdcount) {
		return fmt.Errorf("qdcount with value %d would overflow uint16 with max range %d", qdcount, math.MaxUint16)
	}
	h.QDCOUNT = uint16(qdcount)
	return nil
}

// GetANCOUNT returns the Answer Record Count.
func (h *Header) GetANCOUNT() uint16 { return h.ANCOUNT }

// SetANCOUNT sets the Answer Record Count.
func (h *Header) SetANCOUNT(ancount int) error {
	if utils.WouldOverflowUint16(ancount) {
		return fmt.Errorf("ancount with value %d would overflow uint16 with max range %d", ancount, math.MaxUint16)
	}
	h.ANCOUNT = uint16(ancount)
	return nil
}

// GetNSCOUNT returns the Authority Record Count.
func (h *Header) GetNSCOUNT() uint16 { return h.NSCOUNT }

// SetNSCOUNT sets the Authority Record Count.
func (h *Header) SetNSCOUNT(nscount int) error {
	if utils.WouldOverflowUint16(nscount) {
		return fmt.Errorf("nscount with value %d would overflow uint16 with max range %d", nscount, math.MaxUint16)
	}
	h.NSCOUNT = uint16(nscount)
	return nil
}

// GetARCOUNT returns the Additional Record Count.
func (h *Header) GetARCOUNT() uint16 { return h.ARCOUNT }

// SetARCOUNT sets the Additional Record Count.
func (h *Header) SetARCOUNT(arcount int) error {
	if utils.WouldOverflowUint16(arcount) {
		return fmt.Errorf("arcount with value %d would overflow uint16 with max range %d", arcount, math.MaxUint16)
	}
	h.ARCOUNT = uint16(arcount)
	return nil
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// MarshalBinary marshals a Header into a 12-byte slice via the bitfield schema.
func (h *Header) MarshalBinary() ([]byte, error) {
	values := map[string]int64{
		"packet_identifier":       int64(h.ID),
		"query_response":          boolToInt64(h.QR),
		"operation_code":          int64(h.Opcode),
		"authoritative_answer":    boolToInt64(h.AA),
		"truncation":              boolToInt64(h.TC),
		"recursion_desired":       boolToInt64(h.RD),
		"recursion_available":     boolToInt64(h.RA),
		"reserved":                int64(h.Z),
		"response_code":           int64(h.RCODE),
		"question_count":          int64(h.QDCOUNT),
		"answer_record_count":     int64(h.ANCOUNT),
		"authority_record_count":  int64(h.NSCOUNT),
		"additional_record_count": int64(h.ARCOUNT),
	}
	return schema.Encode(values)
}

// Unmarshal deserializes a 12-byte slice into a Header.
func Unmarshal(data []byte) (*Header, error) {
	values, _, err := schema.Decode(data, 0)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	h := &Header{
		ID:      uint16(values["packet_identifier"]),
		QR:      values["query_response"] != 0,
		Opcode:  Opcode(values["operation_code"]),
		AA:      values["authoritative_answer"] != 0,
		TC:      values["truncation"] != 0,
		RD:      values["recursion_desired"] != 0,
		RA:      values["recursion_available"] != 0,
		Z:       uint8(values["reserved"]),
		RCODE:   ResponseCode(values["response_code"]),
		QDCOUNT: uint16(values["question_count"]),
		ANCOUNT: uint16(values["answer_record_count"]),
		NSCOUNT: uint16(values["authority_record_count"]),
		ARCOUNT: uint16(values["additional_record_count"]),
	}
	return h, nil
}
