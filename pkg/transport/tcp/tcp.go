// Package tcp implements the TCP transport: 16-bit big-endian
// length-prefix framing, pipelining (the next request is accepted as
// soon as its frame is read, without waiting on the previous reply),
// multiplexing (replies are written in completion order, not request
// order), and a per-connection state machine.
package tcp

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nhairs/nserver/pkg/server"
	"github.com/nhairs/nserver/pkg/wire"
)

// connState names the per-connection state machine:
// Idle → ReadingLength → ReadingBody → Dispatched → (write-ready) →
// Idle | Closed. It exists for diagnostics; the control flow itself is
// a straight-line read loop plus one dispatch goroutine per request.
type connState int32

const (
	stateIdle connState = iota
	stateReadingLength
	stateReadingBody
	stateDispatched
	stateClosed
)

// Transport implements server.Transport over framed TCP connections.
type Transport struct{}

// New returns a TCP Transport.
func New() *Transport { return &Transport{} }

// ListenAndServe binds addr and accepts connections until ctx is
// cancelled, each served by its own goroutine via serveConn.
func (t *Transport) ListenAndServe(ctx context.Context, s *server.Server, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(ctx, s, conn)
		}()
	}
}

// serveConn runs one connection's read loop: frames are read
// sequentially, but each parsed request is dispatched to s.Serve on
// its own goroutine (pipelining), while a single writer goroutine
// serializes replies onto the connection in completion order
// (multiplexing). The connection's own context is cancelled on EOF,
// read error, or timeout, which in-flight dispatches observe via
// s.Serve's ctx.Err() check and treat as a dropped request.
func serveConn(parent context.Context, s *server.Server, conn net.Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer conn.Close()

	state := connState(stateIdle)

	writes := make(chan []byte, 8)
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for frame := range writes {
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}
	}()

	var inflight sync.WaitGroup
	defer func() {
		atomic.StoreInt32((*int32)(&state), int32(stateClosed))
		// Cancel first: dispatch goroutines blocked on `writes <- frame`
		// (because the writer already quit on a conn.Write error) are
		// selecting on ctx.Done() too, so cancelling unblocks them before
		// we wait on inflight below. Waiting first would deadlock forever
		// since nothing else signals ctx.Done() until this defer returns.
		cancel()
		inflight.Wait()
		close(writes)
		writerWG.Wait()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(s.Settings.TCPIdleTimeout))
		atomic.StoreInt32((*int32)(&state), int32(stateReadingLength))

		var lenBuf [2]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		frameLen := binary.BigEndian.Uint16(lenBuf[:])

		conn.SetReadDeadline(time.Now().Add(s.Settings.TCPReadTimeout))
		atomic.StoreInt32((*int32)(&state), int32(stateReadingBody))

		body := make([]byte, frameLen)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		atomic.StoreInt32((*int32)(&state), int32(stateDispatched))

		inflight.Add(1)
		go func(raw []byte) {
			defer inflight.Done()
			rec := wire.NewRawRecord(nil, conn.RemoteAddr(), "tcp")
			out, err := s.Serve(ctx, raw, rec)
			if err != nil || out == nil {
				return
			}
			frame := make([]byte, 2+len(out))
			binary.BigEndian.PutUint16(frame, uint16(len(out)))
			copy(frame[2:], out)
			select {
			case writes <- frame:
			case <-ctx.Done():
			}
		}(body)

		atomic.StoreInt32((*int32)(&state), int32(stateIdle))
	}
}
