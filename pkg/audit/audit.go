// Package audit supplies an optional async query audit log: a
// RawMiddleware that fire-and-forgets one row per completed query to
// a modernc.org/sqlite-backed table through a small buffered worker
// pool. Best-effort: a full buffer drops the row rather than ever
// blocking the serving path.
package audit

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	_ "modernc.org/sqlite"

	"github.com/nhairs/nserver/pkg/middleware"
	"github.com/nhairs/nserver/pkg/nslog"
	"github.com/nhairs/nserver/pkg/wire"
)

// QueryLogEntry is one audited request/response pair.
type QueryLogEntry struct {
	Timestamp  time.Time
	ClientIP   string
	Name       string
	QType      string
	Rcode      int
	DurationMs float64
}

// Config controls the audit log's storage and worker pool.
type Config struct {
	Path       string // sqlite database file
	Workers    int    // default 4
	BufferSize int    // default 1000
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Path: "./nserver-audit.db", Workers: 4, BufferSize: 1000}
}

// Logger is the audit log's runtime: an open database, a buffered
// channel of pending entries, and the worker pool draining it.
type Logger struct {
	db      *sql.DB
	stmt    *sql.Stmt
	buffer  chan QueryLogEntry
	logger  *nslog.Logger
	wg      sync.WaitGroup
	dropped atomic.Int64
	closed  atomic.Bool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS query_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   DATETIME NOT NULL,
	client_ip   TEXT NOT NULL,
	name        TEXT NOT NULL,
	qtype       TEXT NOT NULL,
	rcode       INTEGER NOT NULL,
	duration_ms REAL NOT NULL
)`

// New opens (or creates) the sqlite database at cfg.Path and starts
// cfg.Workers worker goroutines.
func New(cfg Config, logger *nslog.Logger) (*Logger, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1000
	}
	if logger == nil {
		logger = nslog.NewDefault()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: set busy_timeout: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO query_log (timestamp, client_ip, name, qtype, rcode, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: prepare insert: %w", err)
	}

	l := &Logger{
		db:     db,
		stmt:   stmt,
		buffer: make(chan QueryLogEntry, cfg.BufferSize),
		logger: logger,
	}

	for i := 0; i < cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l, nil
}

func (l *Logger) worker() {
	defer l.wg.Done()
	for entry := range l.buffer {
		if _, err := l.stmt.Exec(entry.Timestamp, entry.ClientIP, entry.Name, entry.QType, entry.Rcode, entry.DurationMs); err != nil {
			l.logger.Error("audit: insert failed", "error", err)
		}
	}
}

// Log fire-and-forgets entry onto the buffer. A full buffer drops the
// row and increments DroppedCount rather than blocking the caller.
func (l *Logger) Log(entry QueryLogEntry) {
	if l.closed.Load() {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	select {
	case l.buffer <- entry:
	default:
		l.dropped.Add(1)
	}
}

// DroppedCount returns the number of entries dropped due to a full buffer.
func (l *Logger) DroppedCount() int64 { return l.dropped.Load() }

// Close stops accepting new entries, drains the buffer, and closes
// the database.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.buffer)
	l.wg.Wait()
	_ = l.stmt.Close()
	return l.db.Close()
}

// AsRawMiddleware returns a RawMiddleware that times every request and
// fire-and-forgets a QueryLogEntry for it. It sits on the raw stack
// rather than the query stack so each entry can carry the client
// address, which the decoded Query no longer has. Requests with no
// question section or whose reply was dropped produce no row.
func (l *Logger) AsRawMiddleware() middleware.RawMiddleware {
	return func(next middleware.RawFunc) middleware.RawFunc {
		return func(rec *wire.RawRecord) error {
			start := time.Now()
			err := next(rec)
			elapsed := time.Since(start)

			if rec.Request == nil || len(rec.Request.Question) == 0 || rec.Reply == nil {
				return err
			}
			q := rec.Request.Question[0]
			go l.Log(QueryLogEntry{
				ClientIP:   rec.ClientIP(),
				Name:       q.Name,
				QType:      dns.TypeToString[q.Qtype],
				Rcode:      rec.Reply.Rcode,
				DurationMs: float64(elapsed.Microseconds()) / 1000.0,
			})
			return err
		}
	}
}
