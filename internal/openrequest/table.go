// Package openrequest holds the set of in-flight client requests a
// forwarder is waiting to complete, and the transaction-id index used to
// correlate upstream replies back to the request that spawned them.
//
// A mutex-guarded map holds the open requests; a ticker-driven sweep
// evicts any whose upstream never replied.
package openrequest

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/petrkotek/dns-forwarder/internal/dnsclass"
	"github.com/petrkotek/dns-forwarder/internal/dnstype"
	"github.com/petrkotek/dns-forwarder/internal/packet"
	"github.com/petrkotek/dns-forwarder/internal/record"
)

// SlotKey identifies one answer slot of an OpenRequest. label.Sequence is
// not itself comparable, so the name is folded down to its dotted string
// form for use as a map key.
type SlotKey struct {
	Name  string
	Type  dnstype.Type
	Class dnsclass.Class
}

func keyForQuestion(name string, t dnstype.Type, c dnsclass.Class) SlotKey {
	return SlotKey{Name: name, Type: t, Class: c}
}

type slot struct {
	key      SlotKey
	answer   record.ResourceRecord
	resolved bool
}

// OpenRequest is a client query awaiting resolution of every question's
// slot before a single aggregate reply can be sent.
type OpenRequest struct {
	Source    net.Addr
	Request   packet.Packet
	createdAt time.Time

	slots []slot
	index map[SlotKey]int
}

// IsComplete reports whether every answer slot has been resolved.
func (r *OpenRequest) IsComplete() bool {
	for _, s := range r.slots {
		if !s.resolved {
			return false
		}
	}
	return true
}

// Answers returns the resolved records in original question order. It is
// only meaningful once IsComplete reports true; unresolved slots are
// skipped rather than zero-valued, so callers should check IsComplete
// first.
func (r *OpenRequest) Answers() []record.ResourceRecord {
	out := make([]record.ResourceRecord, 0, len(r.slots))
	for _, s := range r.slots {
		if s.resolved {
			out = append(out, s.answer)
		}
	}
	return out
}

// ResolveSlot fills the i-th question's slot directly, bypassing the
// Question-keyed lookup apply_answers uses. Used by the forwarder to
// fill synthetic default answers when no upstream is configured.
func (r *OpenRequest) ResolveSlot(i int, answer record.ResourceRecord) {
	if i < 0 || i >= len(r.slots) {
		return
	}
	r.slots[i].answer = answer
	r.slots[i].resolved = true
}

type identity struct {
	source string
	id     uint16
}

// Table is the open-request set plus the transaction-id subrequest
// index. Both are owned exclusively by the forwarder's event loop in the
// single-threaded model; the mutex exists because the staleness sweep
// runs on its own ticker goroutine.
type Table struct {
	mu          sync.Mutex
	open        map[identity]*OpenRequest
	subrequests map[uint16]*OpenRequest
	logger      *slog.Logger
	maxAge      time.Duration
}

// New builds an empty Table and starts its staleness-sweep goroutine.
// The sweep runs every maxAge and evicts any OpenRequest at least maxAge
// old, so one whose upstream never replies is gone between maxAge and
// twice maxAge after it was opened (see the design note on open-request
// liveness).
func New(logger *slog.Logger, maxAge time.Duration) *Table {
	t := &Table{
		open:        make(map[identity]*OpenRequest),
		subrequests: make(map[uint16]*OpenRequest),
		logger:      logger,
		maxAge:      maxAge,
	}
	go t.periodicallySweep()
	return t
}

func (t *Table) periodicallySweep() {
	ticker := time.NewTicker(t.maxAge)
	defer ticker.Stop()

	for range ticker.C {
		t.sweep()
	}
}

func (t *Table) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for id, or := range t.open {
		if now.Sub(or.createdAt) >= t.maxAge {
			delete(t.open, id)
			for tid, sub := range t.subrequests {
				if sub == or {
					delete(t.subrequests, tid)
				}
			}
			t.logger.Debug("evicted stale open request",
				slog.String("source", id.source),
				slog.Int("id", int(id.id)))
		}
	}
}

// Open inserts a new OpenRequest for a client query, allocating an
// UNRESOLVED slot for every question keyed on its name, type, and class.
func (t *Table) Open(source net.Addr, request packet.Packet) *OpenRequest {
	or := &OpenRequest{
		Source:    source,
		Request:   request,
		createdAt: time.Now(),
		slots:     make([]slot, len(request.Questions)),
		index:     make(map[SlotKey]int, len(request.Questions)),
	}
	for i, q := range request.Questions {
		key := keyForQuestion(q.Name.String(), q.Type, q.Class)
		or.slots[i] = slot{key: key}
		or.index[key] = i
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[identity{source: source.String(), id: request.Header.GetMessageID()}] = or
	return or
}

// RegisterSubrequest indexes tid so a later upstream reply bearing that
// transaction id can be matched back to or.
func (t *Table) RegisterSubrequest(or *OpenRequest, tid uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subrequests[tid] = or
}

// MatchUpstreamReply looks up reply's packet_identifier in the
// subrequest index, removing and returning the owning OpenRequest. It
// returns nil if no subrequest is registered under that id — a malformed
// or late reply.
func (t *Table) MatchUpstreamReply(reply packet.Packet) *OpenRequest {
	tid := reply.Header.GetMessageID()

	t.mu.Lock()
	defer t.mu.Unlock()
	or, ok := t.subrequests[tid]
	if !ok {
		return nil
	}
	delete(t.subrequests, tid)
	return or
}

// ApplyAnswers assigns each answer record in reply to the slot matching
// Question(name, qtype=atype, qclass=atype). Using atype for both fields
// is deliberate, not a typo left in by accident: it is kept exactly as
// specified rather than "fixed" to qclass=aclass (see DESIGN.md). Answers
// with no matching slot are ignored.
func (or *OpenRequest) ApplyAnswers(reply packet.Packet) {
	for _, answer := range reply.Answers {
		key := keyForQuestion(answer.Name.String(), answer.Type, dnsclass.Class(answer.Type))
		if i, ok := or.index[key]; ok {
			or.slots[i].answer = answer
			or.slots[i].resolved = true
		}
	}
}

// Close removes or from the open-request set.
func (t *Table) Close(or *OpenRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, identity{source: or.Source.String(), id: or.Request.Header.GetMessageID()})
}
