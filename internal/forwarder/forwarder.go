// Package forwarder implements the single-threaded DNS forwarding event
// loop: it fans a multi-question client query out into per-question
// upstream subqueries, correlates asynchronous replies by transaction
// id, and emits one aggregate reply per client request.
package forwarder

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/petrkotek/dns-forwarder/internal/header"
	"github.com/petrkotek/dns-forwarder/internal/openrequest"
	"github.com/petrkotek/dns-forwarder/internal/packet"
	"github.com/petrkotek/dns-forwarder/internal/question"
	"github.com/petrkotek/dns-forwarder/internal/record"
)

// MaxDatagramSize is the maximum DNS-over-UDP message size per RFC 1035
// section 4.2.1.
const MaxDatagramSize = 512

// DefaultAddr is the address the forwarder listens on when none is given.
const DefaultAddr = "127.0.0.1:2053"

// defaultSweepInterval bounds how long an OpenRequest whose upstream
// never replies lives in the table before being evicted.
const defaultSweepInterval = 10 * time.Second

// Forwarder is the event loop described above. All of its mutable state
// (the UDP socket, the open-request table) is owned exclusively by the
// goroutine running Run; it is not safe to call Run concurrently from
// two goroutines against the same Forwarder.
type Forwarder struct {
	conn     net.PacketConn
	resolver net.Addr
	table    *openrequest.Table
	logger   *slog.Logger
}

// New builds a Forwarder bound to conn. resolver may be nil, meaning no
// upstream is configured and every question is answered with a
// synthetic default record.
func New(conn net.PacketConn, resolver net.Addr, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		conn:     conn,
		resolver: resolver,
		table:    openrequest.New(logger, defaultSweepInterval),
		logger:   logger,
	}
}

// Run drives the event loop until the underlying connection is closed,
// at which point it returns nil. Any other per-datagram failure is
// logged and the loop continues with the next datagram.
func (f *Forwarder) Run() error {
	buf := make([]byte, MaxDatagramSize)

	for {
		n, peer, err := f.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			f.logger.Error("failed to read datagram", slog.Any("error", err))
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		f.handleDatagram(data, peer)
	}
}

// Close shuts down the forwarder's connection, causing Run to return.
func (f *Forwarder) Close() error {
	return f.conn.Close()
}

func (f *Forwarder) handleDatagram(data []byte, peer net.Addr) {
	p, err := packet.Decode(data)
	if err != nil {
		f.logger.Error("failed to decode datagram", slog.Any("peer", peer), slog.Any("error", err))
		return
	}

	if f.resolver != nil && peer.String() == f.resolver.String() {
		f.handleUpstreamReply(p)
		return
	}
	f.handleClientQuery(p, peer)
}

func (f *Forwarder) handleUpstreamReply(reply packet.Packet) {
	or := f.table.MatchUpstreamReply(reply)
	if or == nil {
		f.logger.Warn("dropping unmatched upstream reply", slog.Any("id", reply.Header.GetMessageID()))
		return
	}

	or.ApplyAnswers(reply)
	if or.IsComplete() {
		f.complete(or)
	}
}

func (f *Forwarder) handleClientQuery(query packet.Packet, peer net.Addr) {
	or := f.table.Open(peer, query)

	if f.resolver == nil {
		for i, q := range query.Questions {
			answer, err := record.NewARecordFromSequence(q.Name, 123+10*int32(i), net.IPv4(1, 2, 3, 4))
			if err != nil {
				f.logger.Error("failed to synthesize default answer", slog.Any("error", err))
				continue
			}
			or.ResolveSlot(i, answer)
		}
		if or.IsComplete() {
			f.complete(or)
		}
		return
	}

	for _, q := range query.Questions {
		tid, err := mintTransactionID()
		if err != nil {
			f.logger.Error("failed to mint transaction id", slog.Any("error", err))
			continue
		}
		f.table.RegisterSubrequest(or, tid)

		subHeader := query.Header
		subHeader.ID = tid
		sub, err := packet.New(subHeader, []question.Question{q}, nil)
		if err != nil {
			f.logger.Error("failed to build subrequest", slog.Any("error", err))
			continue
		}

		subBytes, err := sub.Encode()
		if err != nil {
			f.logger.Error("failed to encode subrequest", slog.Any("error", err))
			continue
		}

		if _, err := f.conn.WriteTo(subBytes, f.resolver); err != nil {
			f.logger.Error("failed to send subrequest", slog.Any("resolver", f.resolver), slog.Any("error", err))
		}
	}
}

func (f *Forwarder) complete(or *openrequest.OpenRequest) {
	reply := synthesizeReply(or)

	replyBytes, err := reply.Encode()
	if err != nil {
		f.logger.Error("failed to encode reply", slog.Any("error", err))
		f.table.Close(or)
		return
	}

	if _, err := f.conn.WriteTo(replyBytes, or.Source); err != nil {
		f.logger.Error("failed to send reply", slog.Any("to", or.Source), slog.Any("error", err))
	}

	f.table.Close(or)
}

// synthesizeReply builds the aggregate response for a completed
// OpenRequest per the response-header derivation rules: the id, opcode
// and RD flag are echoed from the original request; AA, TC and RA are
// always 0; RCODE is NotImplemented unless the original opcode was a
// standard QUERY.
func synthesizeReply(or *openrequest.OpenRequest) packet.Packet {
	h := header.Header{
		ID:     or.Request.Header.GetMessageID(),
		QR:     true,
		Opcode: or.Request.Header.GetOpcode(),
		RD:     or.Request.Header.IsRD(),
		RCODE:  header.NoError,
	}
	if or.Request.Header.GetOpcode() != header.Query {
		h.RCODE = header.NotImplemented
	}

	p, err := packet.New(h, or.Request.Questions, or.Answers())
	if err != nil {
		// Header count fields only fail to set on a slice length that
		// overflows uint16, which packet.Decode could never have
		// produced in the first place.
		panic(fmt.Sprintf("forwarder: impossible header overflow synthesizing reply: %v", err))
	}
	return p
}

// mintTransactionID draws a transaction id uniformly from [0, 2^16).
func mintTransactionID() (uint16, error) {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}
