package audit

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhairs/nserver/pkg/rule"
	"github.com/nhairs/nserver/pkg/wire"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := New(Config{Path: path, Workers: 2, BufferSize: 16}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// countRows queries the backing table directly: Logger exposes no
// read-back API of its own (nothing in this repo needs one), so the
// test reaches past it to confirm Log's writes actually landed.
func countRows(t *testing.T, l *Logger) int {
	t.Helper()
	var n int
	require.NoError(t, l.db.QueryRow("SELECT COUNT(*) FROM query_log").Scan(&n))
	return n
}

func TestLogPersistsEntry(t *testing.T) {
	l := newTestLogger(t)
	l.Log(QueryLogEntry{ClientIP: "10.0.0.1", Name: "example.com.", QType: "A", Rcode: rule.RcodeNOERROR, DurationMs: 1.5})

	require.Eventually(t, func() bool {
		return countRows(t, l) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var name, qtype string
	require.NoError(t, l.db.QueryRow("SELECT name, qtype FROM query_log LIMIT 1").Scan(&name, &qtype))
	assert.Equal(t, "example.com.", name)
	assert.Equal(t, "A", qtype)
}

func TestLogDropsWhenBufferFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := New(Config{Path: path, Workers: 0, BufferSize: 1}, nil)
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 50; i++ {
		l.Log(QueryLogEntry{Name: "x.", QType: "A"})
	}
	assert.Greater(t, l.DroppedCount(), int64(0))
}

func TestAsRawMiddlewareLogsCompletedQuery(t *testing.T) {
	l := newTestLogger(t)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	addr, err := net.ResolveUDPAddr("udp", "10.0.0.1:53000")
	require.NoError(t, err)
	rec := wire.NewRawRecord(req, addr, "udp")

	fn := l.AsRawMiddleware()(func(rec *wire.RawRecord) error {
		rec.Reply = new(dns.Msg)
		rec.Reply.SetReply(rec.Request)
		rec.Reply.Rcode = rule.RcodeNOERROR
		return nil
	})
	require.NoError(t, fn(rec))

	require.Eventually(t, func() bool {
		return countRows(t, l) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var clientIP, name, qtype string
	require.NoError(t, l.db.QueryRow("SELECT client_ip, name, qtype FROM query_log LIMIT 1").Scan(&clientIP, &name, &qtype))
	assert.Equal(t, "10.0.0.1", clientIP)
	assert.Equal(t, "example.com.", name)
	assert.Equal(t, "A", qtype)
}

func TestAsRawMiddlewareSkipsDroppedReply(t *testing.T) {
	l := newTestLogger(t)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	rec := wire.NewRawRecord(req, nil, "udp")

	fn := l.AsRawMiddleware()(func(*wire.RawRecord) error { return nil })
	require.NoError(t, fn(rec))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, countRows(t, l), "a dropped reply produces no row")
}

func TestCloseIsIdempotent(t *testing.T) {
	l := newTestLogger(t)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
