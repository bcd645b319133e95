package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"os/exec"

	"github.com/basket/tg-live/internal/channels"
	"github.com/basket/tg-live/internal/diagnostics"
)

type workerState string

const (
	workerIdle       workerState = "idle"
	workerRunning    workerState = "running"
	workerTerminated workerState = "terminated"
)

const fallbackNotifyText = "(assistant unavailable; please try again)"

type workerRequest struct {
	ctx   context.Context
	msg   channels.InboundMessage
	reply chan Result
}

// worker is one per-session cooperating process runner. Requests for the
// same session are handled strictly in submission order by a single
// goroutine draining inbox. Grounded on the teacher's
// internal/mcp/transport.go StdioTransport/ReconnectableTransport shape,
// adapted from a persistent JSON-RPC pipe to a bounded one-shot exec per
// request (spec.md §4.7, §6 subprocess contract).
type worker struct {
	sessionID string
	cfg       SubprocessConfig

	inbox chan workerRequest
	done  chan struct{}
	once  sync.Once

	mu         sync.Mutex
	state      workerState
	lastActive time.Time
}

func newWorker(sessionID string, cfg SubprocessConfig) *worker {
	w := &worker{
		sessionID:  sessionID,
		cfg:        cfg,
		inbox:      make(chan workerRequest, 16),
		done:       make(chan struct{}),
		state:      workerIdle,
		lastActive: time.Now(),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	for {
		select {
		case req, ok := <-w.inbox:
			if !ok {
				return
			}
			w.setState(workerRunning)
			res := w.execOnce(req.ctx, req.msg)

			// execOnce may have already called terminate() (timeout path),
			// which sets state=workerTerminated and closes w.done. Don't
			// stomp that back to idle, and stop draining inbox — the pool
			// has already (or will, on next workerFor) evicted this worker
			// from its session map and spawned a replacement.
			w.mu.Lock()
			terminated := w.state == workerTerminated
			if !terminated {
				w.state = workerIdle
				w.lastActive = time.Now()
			}
			w.mu.Unlock()

			req.reply <- res

			if terminated {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *worker) setState(s workerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Status returns the worker's current state and last-active time, used by
// the pool for idle-TTL and LRU eviction decisions.
func (w *worker) status() (workerState, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.lastActive
}

// terminate marks the worker terminated and stops its loop. Safe to call
// more than once.
func (w *worker) terminate() {
	w.once.Do(func() {
		w.setState(workerTerminated)
		close(w.done)
	})
}

// execOnce runs the subprocess once, bounded by codex_timeout_s, and
// classifies the outcome per spec.md §4.7.
func (w *worker) execOnce(parent context.Context, msg channels.InboundMessage) Result {
	timeout := time.Duration(w.cfg.TimeoutS * float64(time.Second))
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.cfg.Command, w.cfg.Args...)
	cmd.Stdin = strings.NewReader(msg.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	sessionID := SessionKey(msg.ChatID)
	errCtx := diagnostics.ErrorContext{
		UpdateID:  msg.UpdateID,
		ChatID:    msg.ChatID,
		SessionID: sessionID,
		Layer:     diagnostics.LayerOrchestrator,
		Operation: diagnostics.OpHandleMessage,
	}

	if ctx.Err() == context.DeadlineExceeded {
		w.terminate()
		return w.errorResult(diagnostics.CodeCodexTimeout, "assistant subprocess timed out", true, errCtx, msg.ChatID, msg.UpdateID)
	}
	if err != nil || stdout.Len() == 0 {
		detail := fmt.Sprintf("assistant subprocess failed: %v", err)
		if stderr.Len() > 0 {
			detail = fmt.Sprintf("%s (stderr: %s)", detail, strings.TrimSpace(stderr.String()))
		}
		return w.errorResult(diagnostics.CodeCodexExecFailed, detail, true, errCtx, msg.ChatID, msg.UpdateID)
	}

	return Result{
		Outbound: &channels.OutboundMessage{
			ChatID:          msg.ChatID,
			Text:            strings.TrimSpace(stdout.String()),
			ReplyToUpdateID: msg.UpdateID,
		},
	}
}

func (w *worker) errorResult(code, message string, retryable bool, ctx diagnostics.ErrorContext, chatID, updateID string) Result {
	res := Result{
		Diagnostics: []diagnostics.ErrorDetail{
			diagnostics.NewErrorDetail(code, message, retryable, diagnostics.SourceOrchestratorDiag, diagnostics.CategoryError, ctx),
		},
	}
	if w.cfg.NotifyOnError {
		res.Outbound = &channels.OutboundMessage{
			ChatID:          chatID,
			Text:            fallbackNotifyText,
			ReplyToUpdateID: updateID,
		}
	}
	return res
}
