package bus

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS events (
	ts           INTEGER NOT NULL,
	topic        TEXT NOT NULL,
	severity     TEXT NOT NULL,
	update_id    TEXT,
	chat_id      TEXT,
	session_id   TEXT,
	layer        TEXT,
	operation    TEXT,
	diagnostic_id TEXT
);
`

// AuditRecord is one row queued for the sqlite sink.
type AuditRecord struct {
	Ts           int64
	Topic        string
	Severity     string
	UpdateID     string
	ChatID       string
	SessionID    string
	Layer        string
	Operation    string
	DiagnosticID string
}

// AuditSink is a best-effort sqlite-backed audit trail for bus events: a
// buffered, drop-oldest channel in front of a single `events` table.
// Grounded on the teacher's internal/persistence/store.go sqlite
// bootstrapping (mattn/go-sqlite3, database/sql, CREATE TABLE IF NOT
// EXISTS), trimmed from its multi-table task-queue schema to a single
// append-only table with no ledger/migration machinery since this
// runtime has no queue state to persist — only a diagnostic trail.
type AuditSink struct {
	db     *sql.DB
	logger *slog.Logger
	queue  chan AuditRecord
	done   chan struct{}
}

// NewAuditSink opens (creating if absent) a sqlite database at path and
// starts its background writer. bufferSize bounds the in-flight queue;
// once full, the oldest queued record is dropped to admit the newest
// (drop-oldest, matching the event emitter's best-effort contract).
func NewAuditSink(path string, bufferSize int, logger *slog.Logger) (*AuditSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit sink: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}

	sink := &AuditSink{
		db:     db,
		logger: logger,
		queue:  make(chan AuditRecord, bufferSize),
		done:   make(chan struct{}),
	}
	go sink.writeLoop()
	return sink, nil
}

// RecordEvent builds an AuditRecord from plain arguments and enqueues it.
// Convenience wrapper for callers (the runtime wrapper) that don't want to
// construct an AuditRecord literal themselves.
func (s *AuditSink) RecordEvent(ts int64, topic, severity, updateID, chatID, sessionID, layer, operation, diagnosticID string) {
	s.Record(AuditRecord{
		Ts: ts, Topic: topic, Severity: severity,
		UpdateID: updateID, ChatID: chatID, SessionID: sessionID,
		Layer: layer, Operation: operation, DiagnosticID: diagnosticID,
	})
}

// Record enqueues one event for persistence. Never blocks: if the queue
// is full, the oldest pending record is discarded to make room.
func (s *AuditSink) Record(rec AuditRecord) {
	select {
	case s.queue <- rec:
		return
	default:
	}
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- rec:
	default:
	}
}

func (s *AuditSink) writeLoop() {
	for {
		select {
		case rec := <-s.queue:
			s.persist(rec)
		case <-s.done:
			return
		}
	}
}

func (s *AuditSink) persist(rec AuditRecord) {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO events (ts, topic, severity, update_id, chat_id, session_id, layer, operation, diagnostic_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Ts, rec.Topic, rec.Severity, rec.UpdateID, rec.ChatID, rec.SessionID, rec.Layer, rec.Operation, rec.DiagnosticID,
	)
	if err != nil {
		s.logger.Warn("audit sink write failed", "topic", rec.Topic, "err", err)
	}
}

// Close stops the writer and closes the database handle.
func (s *AuditSink) Close() error {
	close(s.done)
	return s.db.Close()
}
