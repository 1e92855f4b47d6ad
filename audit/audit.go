// Package audit keeps a SQLite trail of external tool invocations and MCP
// calls. Entries are buffered and written in batches; Close flushes them.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/dbopen"
	"github.com/hazyhaar/authortools/idgen"
	"github.com/hazyhaar/authortools/kit"
	"github.com/hazyhaar/authortools/toolrun"
)

// Schema creates the audit_log table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id    TEXT PRIMARY KEY,
	timestamp   INTEGER NOT NULL,
	action      TEXT NOT NULL,
	args        TEXT NOT NULL DEFAULT '',
	exit_code   INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	trace_id    TEXT NOT NULL DEFAULT '',
	client      TEXT NOT NULL DEFAULT '',
	transport   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
`

const (
	batchSize     = 32
	flushInterval = time.Second
)

// Entry is one audited operation.
type Entry struct {
	EntryID    string `json:"entry_id"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
	Action     string `json:"action"`    // tool name, or "mcp:<tool>"
	Args       string `json:"args,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"` // "success", "error"
	Error      string `json:"error,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
	Client     string `json:"client,omitempty"`
	Transport  string `json:"transport"`
}

// SQLiteLogger persists entries to the audit_log table.
type SQLiteLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan *Entry
	done   chan struct{}
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator sets the generator of entry IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *SQLiteLogger) { l.newID = gen }
}

// WithLogger sets the logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *SQLiteLogger) { l.logger = logger }
}

// NewSQLiteLogger starts the background writer. Call Init before logging.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:     db,
		newID:  idgen.Prefixed("aud_", idgen.Default),
		logger: slog.Default(),
		ch:     make(chan *Entry, 1024),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Init creates the schema.
func (l *SQLiteLogger) Init() error {
	if _, err := l.db.Exec(Schema); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	return nil
}

// Log writes entry synchronously.
func (l *SQLiteLogger) Log(ctx context.Context, entry *Entry) error {
	l.fillDefaults(entry)
	return dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error { return insert(ctx, tx, entry) })
}

// LogAsync queues entry. A full buffer falls back to a synchronous write.
func (l *SQLiteLogger) LogAsync(entry *Entry) {
	l.fillDefaults(entry)
	select {
	case l.ch <- entry:
	default:
		l.logger.Warn("audit buffer full, sync fallback", "action", entry.Action)
		if err := l.Log(context.Background(), entry); err != nil {
			l.logger.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// Close flushes queued entries and stops the writer. No entry may be
// logged after Close.
func (l *SQLiteLogger) Close() error {
	close(l.ch)
	<-l.done
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *SQLiteLogger) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `SELECT entry_id, timestamp, action, args, exit_code,
		duration_ms, status, error, trace_id, client, transport
		FROM audit_log ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.Action, &e.Args, &e.ExitCode,
			&e.DurationMs, &e.Status, &e.Error, &e.TraceID, &e.Client, &e.Transport); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Observer returns a toolrun.Observer recording every tool invocation.
func (l *SQLiteLogger) Observer() toolrun.Observer {
	return func(ctx context.Context, inv toolrun.Invocation, res *toolrun.Result, err error) {
		e := &Entry{
			Action:    string(inv.Tool),
			Args:      strings.Join(inv.Args, " "),
			TraceID:   kit.GetTraceID(ctx),
			Client:    kit.GetClient(ctx),
			Transport: kit.GetTransport(ctx),
		}
		switch {
		case err != nil:
			e.ExitCode = -1
			e.Error = err.Error()
		case res.ExitCode != 0:
			e.ExitCode = res.ExitCode
			e.Error = apierr.Summarize(res.ErrorOutput())
			if e.Error == "" {
				e.Error = fmt.Sprintf("exit status %d", res.ExitCode)
			}
		}
		if res != nil {
			e.DurationMs = res.Duration.Milliseconds()
		}
		l.LogAsync(e)
	}
}

// Middleware records each call of an endpoint under action.
func Middleware(l *SQLiteLogger, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			e := &Entry{
				Action:     action,
				DurationMs: time.Since(start).Milliseconds(),
				TraceID:    kit.GetTraceID(ctx),
				Client:     kit.GetClient(ctx),
				Transport:  kit.GetTransport(ctx),
			}
			if err != nil {
				e.Error = err.Error()
			}
			l.LogAsync(e)
			return resp, err
		}
	}
}

func (l *SQLiteLogger) fillDefaults(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
	if e.Transport == "" {
		e.Transport = "http"
	}
}

func (l *SQLiteLogger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	batch := make([]*Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if err := insert(ctx, tx, e); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			l.logger.Error("audit: flush", "error", err, "entries", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func insert(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, action, args, exit_code, duration_ms, status, error, trace_id, client, transport)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp, e.Action, e.Args, e.ExitCode, e.DurationMs,
		e.Status, e.Error, e.TraceID, e.Client, e.Transport)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", e.EntryID, err)
	}
	return nil
}
