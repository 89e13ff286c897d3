package forwarder

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrkotek/dns-forwarder/internal/dnsclass"
	"github.com/petrkotek/dns-forwarder/internal/dnstype"
	"github.com/petrkotek/dns-forwarder/internal/header"
	"github.com/petrkotek/dns-forwarder/internal/packet"
	"github.com/petrkotek/dns-forwarder/internal/question"
	"github.com/petrkotek/dns-forwarder/internal/record"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustListen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return conn
}

func readPacket(t *testing.T, conn *net.UDPConn) packet.Packet {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, MaxDatagramSize)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := packet.Decode(buf[:n])
	require.NoError(t, err)
	return p
}

// TestNoUpstreamSynthesizesDefaultAnswers exercises the no-resolver path:
// every question gets a synthetic A record, and the client receives one
// aggregate reply without any wire traffic to an upstream.
func TestNoUpstreamSynthesizesDefaultAnswers(t *testing.T) {
	serverConn := mustListen(t)
	clientConn := mustListen(t)
	defer clientConn.Close()

	f := New(serverConn, nil, discardLogger())
	go f.Run()
	defer f.Close()

	q1, err := question.New("a.example.com", dnstype.A, dnsclass.IN)
	require.NoError(t, err)
	q2, err := question.New("b.example.com", dnstype.A, dnsclass.IN)
	require.NoError(t, err)

	var h header.Header
	h.ID = 777
	query, err := packet.New(h, []question.Question{q1, q2}, nil)
	require.NoError(t, err)

	wire, err := query.Encode()
	require.NoError(t, err)

	_, err = clientConn.WriteToUDP(wire, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	reply := readPacket(t, clientConn)
	require.Equal(t, uint16(777), reply.Header.GetMessageID())
	require.True(t, reply.Header.IsResponse())
	require.Len(t, reply.Answers, 2)
	require.Equal(t, "a.example.com", reply.Answers[0].Name.String())
	require.Equal(t, int32(123), reply.Answers[0].TTL)
	require.Equal(t, "b.example.com", reply.Answers[1].Name.String())
	require.Equal(t, int32(133), reply.Answers[1].TTL)
}

// TestNoUpstreamResolvesNamesThatFailConstructionGrammar exercises a
// question whose name could never be built via question.New (it starts
// with a digit, as every reverse-DNS PTR name does) but arrives
// perfectly validly over the wire. The forwarder must still resolve and
// reply to it instead of leaving the slot stuck UNRESOLVED.
func TestNoUpstreamResolvesNamesThatFailConstructionGrammar(t *testing.T) {
	serverConn := mustListen(t)
	clientConn := mustListen(t)
	defer clientConn.Close()

	f := New(serverConn, nil, discardLogger())
	go f.Run()
	defer f.Close()

	var h header.Header
	h.ID = 321
	require.NoError(t, h.SetQDCOUNT(1))
	headerBytes, err := h.MarshalBinary()
	require.NoError(t, err)

	questionBytes := append(encodeRawLabels("1", "0", "0", "127", "in-addr", "arpa"), 0x00)
	questionBytes = append(questionBytes, 0x00, 0x01, 0x00, 0x01) // type A, class IN

	wire := append(headerBytes, questionBytes...)
	_, err = clientConn.WriteToUDP(wire, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	reply := readPacket(t, clientConn)
	require.Len(t, reply.Answers, 1)
	require.Equal(t, "1.0.0.127.in-addr.arpa", reply.Answers[0].Name.String())
}

// encodeRawLabels builds a raw (non-compressed) label sequence without
// going through the construction-time grammar check, to simulate a name
// as it would arrive off the wire.
func encodeRawLabels(labels ...string) []byte {
	var buf []byte
	for _, l := range labels {
		buf = append(buf, byte(len(l)))
		buf = append(buf, []byte(l)...)
	}
	return buf
}

// TestUpstreamFanOutFanIn exercises the configured-resolver path: a
// two-question query is split into two single-question subrequests sent
// to the resolver, and the aggregate reply is only sent to the client
// once both subrequests have been answered.
func TestUpstreamFanOutFanIn(t *testing.T) {
	resolverConn := mustListen(t)
	defer resolverConn.Close()
	serverConn := mustListen(t)
	clientConn := mustListen(t)
	defer clientConn.Close()

	f := New(serverConn, resolverConn.LocalAddr(), discardLogger())
	go f.Run()
	defer f.Close()

	q1, err := question.New("a.example.com", dnstype.A, dnsclass.IN)
	require.NoError(t, err)
	q2, err := question.New("b.example.com", dnstype.A, dnsclass.IN)
	require.NoError(t, err)

	var h header.Header
	h.ID = 555
	query, err := packet.New(h, []question.Question{q1, q2}, nil)
	require.NoError(t, err)

	wire, err := query.Encode()
	require.NoError(t, err)

	_, err = clientConn.WriteToUDP(wire, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	sub1 := readSubrequestAndReply(t, resolverConn, "a.example.com", 1)
	sub2 := readSubrequestAndReply(t, resolverConn, "b.example.com", 2)
	require.NotEqual(t, sub1, sub2, "each subrequest must carry its own minted transaction id")

	reply := readPacket(t, clientConn)
	require.Equal(t, uint16(555), reply.Header.GetMessageID())
	require.Len(t, reply.Answers, 2)
}

// readSubrequestAndReply reads one subrequest from the resolver socket,
// asserts it matches expectedName, and answers it with a synthetic
// record bearing the subrequest's own transaction id. It returns that id
// so the caller can confirm distinct subrequests used distinct ids.
func readSubrequestAndReply(t *testing.T, resolverConn *net.UDPConn, expectedName string, ttl int32) uint16 {
	t.Helper()
	require.NoError(t, resolverConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, MaxDatagramSize)
	n, clientAddr, err := resolverConn.ReadFromUDP(buf)
	require.NoError(t, err)

	sub, err := packet.Decode(buf[:n])
	require.NoError(t, err)
	require.Len(t, sub.Questions, 1)
	require.Equal(t, expectedName, sub.Questions[0].Name.String())

	answer, err := record.NewARecord(expectedName, ttl, net.IPv4(5, 6, 7, 8))
	require.NoError(t, err)

	var rh header.Header
	rh.ID = sub.Header.GetMessageID()
	rh.QR = true
	reply, err := packet.New(rh, nil, []record.ResourceRecord{answer})
	require.NoError(t, err)

	replyWire, err := reply.Encode()
	require.NoError(t, err)
	_, err = resolverConn.WriteToUDP(replyWire, clientAddr)
	require.NoError(t, err)

	return sub.Header.GetMessageID()
}

func TestUnmatchedUpstreamReplyIsDropped(t *testing.T) {
	resolverConn := mustListen(t)
	serverConn := mustListen(t)

	f := New(serverConn, resolverConn.LocalAddr(), discardLogger())
	go f.Run()
	defer f.Close()

	var h header.Header
	h.ID = 9999
	reply, err := packet.New(h, nil, nil)
	require.NoError(t, err)
	wire, err := reply.Encode()
	require.NoError(t, err)

	_, err = resolverConn.WriteToUDP(wire, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	// Give the event loop a moment to process; since nothing is waiting
	// on this transaction id the datagram is simply logged and dropped.
	time.Sleep(100 * time.Millisecond)
}
