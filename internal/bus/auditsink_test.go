package bus

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestAuditSinkPersistsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewAuditSink(path, 0, nil)
	if err != nil {
		t.Fatalf("NewAuditSink: %v", err)
	}
	defer sink.Close()

	sink.RecordEvent(1700000000, TopicCycleCompleted, "info", "42", "10", "sess-10", "service", "handle_message", "diag-1")

	var count int
	deadline := time.Now().Add(2 * time.Second)
	for {
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		row := db.QueryRow("SELECT COUNT(*) FROM events WHERE topic = ?", TopicCycleCompleted)
		if err := row.Scan(&count); err != nil {
			db.Close()
			t.Fatalf("scan: %v", err)
		}
		db.Close()
		if count > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if count != 1 {
		t.Fatalf("expected 1 persisted row, got %d", count)
	}
}

func TestAuditSinkRecordNeverBlocksWhenQueueFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewAuditSink(path, 1, nil)
	if err != nil {
		t.Fatalf("NewAuditSink: %v", err)
	}
	defer sink.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			sink.RecordEvent(int64(i), TopicDiagnosticError, "error", "", "", "", "adapter", "fetch_updates", "diag")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked under queue pressure")
	}
}
