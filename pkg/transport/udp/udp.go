// Package udp implements the UDP datagram transport: one socket, a
// worker pool of configurable size (default 1), and no per-request
// state surviving across datagrams. The listener loop is hand-rolled
// over net.ListenUDP rather than github.com/miekg/dns's own
// dns.Server because the worker-pool sizing needs a loop this package
// controls directly; the wire codec underneath (pkg/wire) still
// depends on miekg/dns for encode/decode.
package udp

import (
	"context"
	"net"

	"github.com/nhairs/nserver/pkg/server"
	"github.com/nhairs/nserver/pkg/wire"
)

const maxUDPDatagram = 65535 // generous upper bound; handle truncates replies per Settings.UDPMaxMessageBytes

// Transport implements server.Transport over a UDP socket.
type Transport struct{}

// New returns a UDP Transport.
func New() *Transport { return &Transport{} }

// ListenAndServe binds addr and dispatches incoming datagrams to s on
// a worker pool sized by s.Settings.WorkerCount (minimum 1). Blocks
// until ctx is cancelled, at which point the socket is closed and any
// in-flight workers drain before returning.
func (t *Transport) ListenAndServe(ctx context.Context, s *server.Server, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}

	workers := s.Settings.WorkerCount
	if workers < 1 {
		workers = 1
	}

	type datagram struct {
		data []byte
		n    int
		from net.Addr
	}
	queue := make(chan datagram, workers*4)

	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for dg := range queue {
				t.handle(ctx, s, conn, dg.data[:dg.n], dg.from)
			}
			done <- struct{}{}
		}()
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		buf := make([]byte, maxUDPDatagram)
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			close(queue)
			for i := 0; i < workers; i++ {
				<-done
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		queue <- datagram{data: buf, n: n, from: from}
	}
}

func (t *Transport) handle(ctx context.Context, s *server.Server, conn *net.UDPConn, raw []byte, from net.Addr) {
	rec := wire.NewRawRecord(nil, from, "udp")
	out, err := s.Serve(ctx, raw, rec)
	if err != nil || out == nil {
		return
	}

	if len(out) > s.Settings.UDPMaxMessageBytes {
		out = truncate(rec, s, out)
	}

	_, _ = conn.WriteToUDP(out, from.(*net.UDPAddr))
}

// truncate re-encodes the reply with the TC bit set and an empty body
// when the packed reply exceeds the configured limit.
func truncate(rec *wire.RawRecord, s *server.Server, oversized []byte) []byte {
	if rec.Reply == nil {
		return oversized
	}
	reply := rec.Reply.Copy()
	reply.Answer, reply.Ns, reply.Extra = nil, nil, nil
	reply.Truncated = true
	out, err := reply.Pack()
	if err != nil {
		return oversized
	}
	return out
}
