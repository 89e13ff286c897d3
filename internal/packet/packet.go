// Package packet implements the whole-message DNS packet codec, composing
// the header, question and record codecs per RFC 1035 section 4.1.
package packet

import (
	"fmt"

	"github.com/petrkotek/dns-forwarder/internal/header"
	"github.com/petrkotek/dns-forwarder/internal/question"
	"github.com/petrkotek/dns-forwarder/internal/record"
)

// Packet is a full DNS message: a header, its questions, and its answers.
// The authority and additional sections are always modeled as empty; on
// decode their bytes are skipped (using the header's trusted counts for
// framing) but never retained, since the forwarder never produces or
// consults them.
type Packet struct {
	Header    header.Header
	Questions []question.Question
	Answers   []record.ResourceRecord
}

// New builds a Packet from questions and answers, auto-filling the
// header's four count fields to match the given slices. Authority and
// additional counts are always zero.
func New(h header.Header, questions []question.Question, answers []record.ResourceRecord) (Packet, error) {
	if err := h.SetQDCOUNT(len(questions)); err != nil {
		return Packet{}, err
	}
	if err := h.SetANCOUNT(len(answers)); err != nil {
		return Packet{}, err
	}
	if err := h.SetNSCOUNT(0); err != nil {
		return Packet{}, err
	}
	if err := h.SetARCOUNT(0); err != nil {
		return Packet{}, err
	}
	return Packet{Header: h, Questions: questions, Answers: answers}, nil
}

// Encode marshals the header, then each question, then each answer, in
// that order.
func (p Packet) Encode() ([]byte, error) {
	buf, err := p.Header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("packet: %w", err)
	}

	for i, q := range p.Questions {
		qBytes, err := q.Encode()
		if err != nil {
			return nil, fmt.Errorf("packet: question %d: %w", i, err)
		}
		buf = append(buf, qBytes...)
	}

	for i, a := range p.Answers {
		aBytes, err := a.Encode()
		if err != nil {
			return nil, fmt.Errorf("packet: answer %d: %w", i, err)
		}
		buf = append(buf, aBytes...)
	}

	return buf, nil
}

// Decode parses a whole Packet from msg: the 12-byte header at offset 0,
// then question_count questions, then answer_record_count answer
// records. Authority and additional records are skipped by re-using the
// record codec purely to advance the offset; their decoded values are
// discarded.
func Decode(msg []byte) (Packet, error) {
	h, err := header.Unmarshal(msg)
	if err != nil {
		return Packet{}, fmt.Errorf("packet: %w", err)
	}

	offset := header.Size
	questions := make([]question.Question, 0, h.GetQDCOUNT())
	for i := 0; i < int(h.GetQDCOUNT()); i++ {
		q, next, err := question.Decode(msg, offset)
		if err != nil {
			return Packet{}, fmt.Errorf("packet: question %d: %w", i, err)
		}
		questions = append(questions, q)
		offset = next
	}

	answers := make([]record.ResourceRecord, 0, h.GetANCOUNT())
	for i := 0; i < int(h.GetANCOUNT()); i++ {
		a, next, err := record.Decode(msg, offset)
		if err != nil {
			return Packet{}, fmt.Errorf("packet: answer %d: %w", i, err)
		}
		answers = append(answers, a)
		offset = next
	}

	for i := 0; i < int(h.GetNSCOUNT()); i++ {
		_, next, err := record.Decode(msg, offset)
		if err != nil {
			return Packet{}, fmt.Errorf("packet: authority %d: %w", i, err)
		}
		offset = next
	}

	for i := 0; i < int(h.GetARCOUNT()); i++ {
		_, next, err := record.Decode(msg, offset)
		if err != nil {
			return Packet{}, fmt.Errorf("packet: additional %d: %w", i, err)
		}
		offset = next
	}

	return Packet{Header: *h, Questions: questions, Answers: answers}, nil
}
