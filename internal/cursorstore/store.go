// Package cursorstore implements the durable JSON cursor-floor file
// described in spec.md §4.4: atomic write-temp-then-rename, read-validate-
// else-reset-to-zero, and a monotonicity invariant that never lets a
// stale on-disk value regress the in-memory floor.
//
// Grounded on the teacher's staged-write-then-rename pattern
// (internal/sandbox/wasm/hotswap.go's os.Rename(stagedOut, finalOut) and
// internal/skills/installer.go's backup-then-rename sequence).
package cursorstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const schemaTag = "1"

// fileFormat is the on-disk JSON shape (spec.md §6).
type fileFormat struct {
	CommittedFloor int64  `json:"committed_floor"`
	Schema         string `json:"schema"`
}

// Store holds the in-memory floor and, when path is non-empty, persists it
// to path using an atomic rename.
type Store struct {
	mu    sync.Mutex
	path  string
	floor int64
	// OnDiagnostic, when non-nil, is invoked (outside the lock) whenever a
	// load or save encounters a non-fatal problem, so the caller can
	// surface an adapter.diagnostics entry without the store depending on
	// the diagnostics package. op is "load" or "save".
	OnDiagnostic func(op, message string, retryable bool)
}

// New constructs a Store. An empty path disables persistence: the floor
// lives only in memory for the process lifetime (spec.md §4.4).
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the committed floor from disk (if a path is configured),
// applying the monotonicity invariant: a loaded value lower than the
// current in-memory floor is ignored.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.diag("load", fmt.Sprintf("cursor state load failed: %v", err), true)
		return nil
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		s.diag("load", fmt.Sprintf("cursor state load failed (invalid json): %v", err), true)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ff.CommittedFloor > s.floor {
		s.floor = ff.CommittedFloor
	}
	return nil
}

// Floor returns the current in-memory committed floor.
func (s *Store) Floor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.floor
}

// Advance raises the floor to candidate if candidate is larger, then
// persists. Returns whether the floor actually advanced.
func (s *Store) Advance(candidate int64) (bool, error) {
	s.mu.Lock()
	if candidate <= s.floor {
		s.mu.Unlock()
		return false, nil
	}
	s.floor = candidate
	floor := s.floor
	s.mu.Unlock()

	return true, s.persist(floor)
}

// persist writes the current floor atomically (write-temp-then-rename).
// A write failure is surfaced as a diagnostic but never panics — the
// in-memory floor remains authoritative for the rest of the process
// lifetime (spec.md §4.4).
func (s *Store) persist(floor int64) error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(fileFormat{CommittedFloor: floor, Schema: schemaTag})
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cursor-*.tmp")
	if err != nil {
		s.diag("save", fmt.Sprintf("cursor state save failed: %v", err), true)
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.diag("save", fmt.Sprintf("cursor state save failed: %v", err), true)
		return err
	}
	if err := tmp.Close(); err != nil {
		s.diag("save", fmt.Sprintf("cursor state save failed: %v", err), true)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		s.diag("save", fmt.Sprintf("cursor state save failed: %v", err), true)
		return err
	}
	return nil
}

func (s *Store) diag(op, message string, retryable bool) {
	if s.OnDiagnostic != nil {
		s.OnDiagnostic(op, message, retryable)
	}
}

// Enabled reports whether persistence is configured.
func (s *Store) Enabled() bool { return s.path != "" }
