package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/basket/tg-live/internal/channels"
	"github.com/basket/tg-live/internal/diagnostics"
)

// SubprocessConfig parameterizes the subprocess orchestrator (spec.md §6).
type SubprocessConfig struct {
	Command         string
	Args            []string
	TimeoutS        float64
	SessionMax      int
	SessionIdleTTLS int
	NotifyOnError   bool
}

// Subprocess is the orchestrator port implementation backed by a pool of
// per-session workers. Pool bookkeeping — spawn-on-first-use, idle-TTL
// eviction, LRU-over-session_max eviction — is owned by this type; request
// serialization within a session is owned by worker (spec.md §4.7).
type Subprocess struct {
	cfg SubprocessConfig

	mu      sync.Mutex
	workers map[string]*worker
}

func NewSubprocess(cfg SubprocessConfig) *Subprocess {
	return &Subprocess{cfg: cfg, workers: make(map[string]*worker)}
}

func (s *Subprocess) HandleMessage(ctx context.Context, msg channels.InboundMessage) Result {
	sessionID := SessionKey(msg.ChatID)
	w := s.workerFor(sessionID)

	reply := make(chan Result, 1)
	select {
	case w.inbox <- workerRequest{ctx: ctx, msg: msg, reply: reply}:
	case <-ctx.Done():
		return s.cancelledResult(msg, sessionID)
	}

	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return s.cancelledResult(msg, sessionID)
	}
}

func (s *Subprocess) cancelledResult(msg channels.InboundMessage, sessionID string) Result {
	return Result{
		Diagnostics: []diagnostics.ErrorDetail{
			diagnostics.NewErrorDetail(
				diagnostics.CodeCodexTimeout, "context cancelled waiting for assistant subprocess", true,
				diagnostics.SourceOrchestratorDiag, diagnostics.CategoryError,
				diagnostics.ErrorContext{
					UpdateID:  msg.UpdateID,
					ChatID:    msg.ChatID,
					SessionID: sessionID,
					Layer:     diagnostics.LayerOrchestrator,
					Operation: diagnostics.OpHandleMessage,
				},
			),
		},
	}
}

// workerFor returns the live worker for sessionID, evicting idle-expired
// and (if over capacity) LRU-idle workers first, then spawning fresh if
// none exists or the existing one has terminated.
func (s *Subprocess) workerFor(sessionID string) *worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictIdleLocked()

	if w, ok := s.workers[sessionID]; ok {
		if state, _ := w.status(); state != workerTerminated {
			return w
		}
		delete(s.workers, sessionID)
	}

	if s.cfg.SessionMax > 0 && len(s.workers) >= s.cfg.SessionMax {
		s.evictLRULocked()
	}

	w := newWorker(sessionID, s.cfg)
	s.workers[sessionID] = w
	return w
}

func (s *Subprocess) evictIdleLocked() {
	if s.cfg.SessionIdleTTLS <= 0 {
		return
	}
	ttl := time.Duration(s.cfg.SessionIdleTTLS) * time.Second
	for id, w := range s.workers {
		state, lastActive := w.status()
		if state == workerIdle && time.Since(lastActive) >= ttl {
			w.terminate()
			delete(s.workers, id)
		}
	}
}

// evictLRULocked terminates the least-recently-active idle worker to make
// room under session_max. If every worker is currently running, the pool
// is allowed to temporarily exceed session_max rather than interrupt
// in-flight work.
func (s *Subprocess) evictLRULocked() {
	var oldestID string
	var oldest time.Time
	found := false
	for id, w := range s.workers {
		state, lastActive := w.status()
		if state != workerIdle {
			continue
		}
		if !found || lastActive.Before(oldest) {
			oldest = lastActive
			oldestID = id
			found = true
		}
	}
	if found {
		s.workers[oldestID].terminate()
		delete(s.workers, oldestID)
	}
}
