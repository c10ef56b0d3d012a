package tcp

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhairs/nserver/pkg/rule"
	"github.com/nhairs/nserver/pkg/server"
)

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenBuf [2]byte
	_, err := io.ReadFull(conn, lenBuf[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint16(lenBuf[:])
	body := make([]byte, n)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	return body
}

func writeFrame(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()
	frame := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(frame, uint16(len(body)))
	copy(frame[2:], body)
	_, err := conn.Write(frame)
	require.NoError(t, err)
}

func queryBytes(t *testing.T, qname string, qtype uint16) []byte {
	t.Helper()
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(qname), qtype)
	raw, err := msg.Pack()
	require.NoError(t, err)
	return raw
}

func startTestServer(t *testing.T) (addr string, cancel context.CancelFunc) {
	t.Helper()
	settings := server.DefaultSettings()
	s := server.New("test", settings, nil)
	_, err := s.Root().Rule("example.com", rule.AllTypes(), func(rule.Query) (any, error) {
		return &dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET}}, nil
	}, false)
	require.NoError(t, err)
	s.Freeze()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = ln.Addr().String()
	ln.Close()

	ctx, cancelFn := context.WithCancel(context.Background())
	tr := New()
	go func() {
		_ = tr.ListenAndServe(ctx, s, addr)
	}()
	time.Sleep(50 * time.Millisecond)
	return addr, cancelFn
}

func TestListenAndServeSingleRequest(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	writeFrame(t, conn, queryBytes(t, "example.com", dns.TypeA))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	body := readFrame(t, conn)

	reply := new(dns.Msg)
	require.NoError(t, reply.Unpack(body))
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
	assert.Len(t, reply.Answer, 1)
}

func TestListenAndServePipelinesRequests(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	writeFrame(t, conn, queryBytes(t, "example.com", dns.TypeA))
	writeFrame(t, conn, queryBytes(t, "nowhere.example", dns.TypeA))
	writeFrame(t, conn, queryBytes(t, "example.com", dns.TypeA))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	seenSuccess, seenNXDomain := 0, 0
	for i := 0; i < 3; i++ {
		body := readFrame(t, conn)
		reply := new(dns.Msg)
		require.NoError(t, reply.Unpack(body))
		switch reply.Rcode {
		case dns.RcodeSuccess:
			seenSuccess++
		case dns.RcodeNameError:
			seenNXDomain++
		}
	}
	assert.Equal(t, 2, seenSuccess)
	assert.Equal(t, 1, seenNXDomain)
}

func TestListenAndServeClosesOnPeerDisconnect(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	writeFrame(t, conn, queryBytes(t, "example.com", dns.TypeA))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	readFrame(t, conn)
	conn.Close()

	// A second, independent connection must still work after the
	// first peer disconnects.
	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()
	writeFrame(t, conn2, queryBytes(t, "example.com", dns.TypeA))
	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	body := readFrame(t, conn2)
	reply := new(dns.Msg)
	require.NoError(t, reply.Unpack(body))
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
}
