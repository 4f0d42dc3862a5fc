// Package gate decides when a session's generation is finished.
//
// Orchestration tasks register on start and deregister on exit. Finalization
// is allowed only after the text phase has ended, a short debounce has passed,
// and no task is still running. Tasks older than the abandonment ceiling are
// purged when every remaining task is that old. The finalize callback runs at
// most once per Tracker.
package gate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
)

const (
	// DefaultDebounce is the minimum delay between text-phase end and finalization.
	DefaultDebounce = 350 * time.Millisecond
	// DefaultAbandonAfter is the age after which an in-flight task is presumed lost.
	DefaultAbandonAfter = 3 * time.Minute
)

// Options configures a Tracker.
type Options struct {
	Debounce     time.Duration
	AbandonAfter time.Duration
	// Now overrides the clock, for tests.
	Now    func() time.Time
	Logger log.Logger
}

// FinalizeFunc performs the terminal transition. It is called at most once.
type FinalizeFunc func(reason string)

// Tracker is the in-flight task gate of one session.
type Tracker struct {
	sessionID  string
	opts       Options
	logger     log.Logger
	onFinalize FinalizeFunc

	mu           sync.Mutex
	inflight     map[string]time.Time
	textEnded    bool
	textEndedAt  time.Time
	toolComplete bool
	recheck      *time.Timer

	completing atomic.Bool
	completed  atomic.Bool
}

// New creates a tracker for sessionID.
func New(sessionID string, onFinalize FinalizeFunc, opts Options) *Tracker {
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = DefaultAbandonAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		sessionID:  sessionID,
		opts:       opts,
		logger:     log.OrDefault(opts.Logger),
		onFinalize: onFinalize,
		inflight:   make(map[string]time.Time),
	}
}

// TaskStarted registers a running task.
func (t *Tracker) TaskStarted(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[taskID] = t.opts.Now()
}

// TaskEnded deregisters a task. Unknown ids are ignored.
func (t *Tracker) TaskEnded(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, taskID)
}

// InFlight returns the number of registered tasks.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// MarkTextPhaseEnded records that no more text will arrive. Only the first
// call sets the timestamp.
func (t *Tracker) MarkTextPhaseEnded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.textEnded {
		return
	}
	t.textEnded = true
	t.textEndedAt = t.opts.Now()
}

// TextPhaseEnded reports whether MarkTextPhaseEnded was called.
func (t *Tracker) TextPhaseEnded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.textEnded
}

// MarkToolComplete records that the tool model declared extraction complete.
func (t *Tracker) MarkToolComplete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toolComplete = true
}

// ToolComplete reports whether MarkToolComplete was called.
func (t *Tracker) ToolComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toolComplete
}

// Completed reports whether finalization ran or the tracker was closed.
func (t *Tracker) Completed() bool {
	return t.completed.Load()
}

// Close disables finalization, for sessions that end by cancellation or failure.
func (t *Tracker) Close() {
	t.completing.Store(true)
	t.completed.Store(true)
	t.mu.Lock()
	if t.recheck != nil {
		t.recheck.Stop()
		t.recheck = nil
	}
	t.mu.Unlock()
}

// TryFinalize runs the finalize callback when the session is ready for it and
// reports whether this call did so. Concurrent callers are safe; at most one
// ever succeeds. A call rejected only by the debounce schedules one re-check.
func (t *Tracker) TryFinalize(reason string) bool {
	if t.completed.Load() || t.completing.Load() {
		return false
	}
	if !t.ready(reason) {
		return false
	}
	if !t.completing.CompareAndSwap(false, true) {
		return false
	}

	t.logger.Info("[session %s] finalizing (%s)", t.sessionID, reason)
	if t.onFinalize != nil {
		t.onFinalize(reason)
	}
	t.completed.Store(true)
	return true
}

func (t *Tracker) ready(reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.textEnded {
		return false
	}

	now := t.opts.Now()
	if wait := t.opts.Debounce - now.Sub(t.textEndedAt); wait > 0 {
		if t.recheck == nil {
			t.recheck = time.AfterFunc(wait, func() {
				t.mu.Lock()
				t.recheck = nil
				t.mu.Unlock()
				t.TryFinalize(reason)
			})
		}
		return false
	}

	if len(t.inflight) > 0 {
		for _, started := range t.inflight {
			if now.Sub(started) < t.opts.AbandonAfter {
				return false
			}
		}
		t.logger.Warn("[session %s] purging %d abandoned tasks", t.sessionID, len(t.inflight))
		clear(t.inflight)
	}
	return true
}
