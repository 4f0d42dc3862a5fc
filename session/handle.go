// Package session owns the per-session runtime state: the session itself, its
// event bus, its in-flight task gate, the active strategy, the orchestration
// dedup guard and the modification lock. Every component receives a *Handle
// instead of looking sessions up in shared maps.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/events"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/gate"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/validate"
)

// Options configures a Handle.
type Options struct {
	Bus      events.BusOptions
	Gate     gate.Options
	Finalize gate.FinalizeFunc
	Logger   log.Logger
}

// Handle bundles everything that belongs to one running session.
type Handle struct {
	Session  *setting.Session
	Bus      *events.Bus
	Gate     *gate.Tracker
	Strategy validate.Strategy
	Logger   log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	dedupMu sync.Mutex
	dedup   map[string]struct{}

	modify chan struct{}
}

// NewHandle wires a session with a fresh bus and gate. The handle context is
// detached from any request so generation outlives its caller.
func NewHandle(sess *setting.Session, strategy validate.Strategy, opts Options) *Handle {
	logger := log.OrDefault(opts.Logger)
	if opts.Bus.Logger == nil {
		opts.Bus.Logger = logger
	}
	if opts.Gate.Logger == nil {
		opts.Gate.Logger = logger
	}
	if strategy == nil {
		strategy = validate.NewStandard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		Session:  sess,
		Bus:      events.NewBus(sess.ID, opts.Bus),
		Gate:     gate.New(sess.ID, opts.Finalize, opts.Gate),
		Strategy: strategy,
		Logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		dedup:    make(map[string]struct{}),
		modify:   make(chan struct{}, 1),
	}
}

// ID returns the session id.
func (h *Handle) ID() string { return h.Session.ID }

// Graph returns the session's node graph.
func (h *Handle) Graph() *setting.Graph { return h.Session.Graph }

// Context is cancelled when the session is cancelled or torn down.
func (h *Handle) Context() context.Context { return h.ctx }

// Accepting reports whether task results may still be applied.
func (h *Handle) Accepting() bool { return !h.Session.Status().Aborted() }

// Emit publishes an event on the session bus.
func (h *Handle) Emit(e setting.Event) { h.Bus.Emit(e) }

// EmitProgress publishes a progress event.
func (h *Handle) EmitProgress(current, total int, format string, v ...any) {
	h.Emit(setting.GenerationProgress{
		Envelope: setting.NewEnvelope(h.ID()),
		Message:  fmt.Sprintf(format, v...),
		Current:  current,
		Total:    total,
	})
}

// EmitError publishes an error event.
func (h *Handle) EmitError(code, message, nodeID string, recoverable bool) {
	h.Emit(setting.GenerationError{
		Envelope:    setting.NewEnvelope(h.ID()),
		Code:        code,
		Message:     message,
		NodeID:      nodeID,
		Recoverable: recoverable,
	})
}

// EmitCompleted publishes the terminal event of a flow.
func (h *Handle) EmitCompleted(outcome string, started time.Time) {
	h.Emit(setting.GenerationCompleted{
		Envelope:   setting.NewEnvelope(h.ID()),
		NodeCount:  h.Graph().Len(),
		DurationMs: time.Since(started).Milliseconds(),
		Outcome:    outcome,
	})
}

// Claim marks key as in progress and reports whether the caller got it.
// A key that is already claimed is rejected until Release.
func (h *Handle) Claim(key string) bool {
	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()
	if _, busy := h.dedup[key]; busy {
		return false
	}
	h.dedup[key] = struct{}{}
	return true
}

// Release frees a key taken by Claim.
func (h *Handle) Release(key string) {
	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()
	delete(h.dedup, key)
}

// LockModification waits for the session's modification slot.
func (h *Handle) LockModification(ctx context.Context) error {
	select {
	case h.modify <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnlockModification frees the modification slot.
func (h *Handle) UnlockModification() {
	select {
	case <-h.modify:
	default:
	}
}

// Teardown stops background work bound to the handle context and drops the
// dedup guard. The graph and event history stay readable.
func (h *Handle) Teardown() {
	h.cancel()
	h.dedupMu.Lock()
	clear(h.dedup)
	h.dedupMu.Unlock()
}
