package gate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCounting(opts Options) (*Tracker, *atomic.Int32) {
	var calls atomic.Int32
	opts.Logger = log.NoOpLogger{}
	tr := New("s1", func(string) { calls.Add(1) }, opts)
	return tr, &calls
}

func TestTracker_RequiresTextPhaseEnd(t *testing.T) {
	tr, calls := newCounting(Options{})

	assert.False(t, tr.TryFinalize("task-end"))
	tr.MarkTextPhaseEnded()
	assert.True(t, tr.TryFinalize("text-end"))
	assert.False(t, tr.TryFinalize("again"))
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, tr.Completed())
}

func TestTracker_ConcurrentFinalizeRunsOnce(t *testing.T) {
	tr, calls := newCounting(Options{})
	tr.MarkTextPhaseEnded()

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.TryFinalize("concurrent") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), wins.Load())
}

func TestTracker_WaitsForAllTasks(t *testing.T) {
	tr, calls := newCounting(Options{})

	tr.TaskStarted("a")
	tr.TaskStarted("b")
	tr.MarkTextPhaseEnded()

	tr.TaskEnded("a")
	assert.False(t, tr.TryFinalize("a done"))
	assert.Equal(t, 1, tr.InFlight())

	tr.TaskEnded("b")
	assert.True(t, tr.TryFinalize("b done"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTracker_DebounceSchedulesRecheck(t *testing.T) {
	tr, calls := newCounting(Options{Debounce: 30 * time.Millisecond})

	tr.MarkTextPhaseEnded()
	assert.False(t, tr.TryFinalize("too early"))
	assert.False(t, tr.TryFinalize("still early"))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTracker_PurgesAbandonedTasks(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tr, calls := newCounting(Options{AbandonAfter: time.Minute, Now: clock.Now})

	tr.TaskStarted("stuck")
	tr.MarkTextPhaseEnded()
	assert.False(t, tr.TryFinalize("young task"))

	clock.Advance(30 * time.Second)
	tr.TaskStarted("fresh")
	clock.Advance(40 * time.Second)
	assert.False(t, tr.TryFinalize("one task still young"))

	clock.Advance(30 * time.Second)
	assert.True(t, tr.TryFinalize("all abandoned"))
	assert.Equal(t, 0, tr.InFlight())
	assert.Equal(t, int32(1), calls.Load())
}

func TestTracker_CloseBlocksFinalize(t *testing.T) {
	tr, calls := newCounting(Options{Debounce: 20 * time.Millisecond})
	tr.MarkTextPhaseEnded()
	assert.False(t, tr.TryFinalize("debounced"))

	tr.Close()
	time.Sleep(40 * time.Millisecond)
	assert.False(t, tr.TryFinalize("closed"))
	assert.Equal(t, int32(0), calls.Load())
}

func TestTracker_ToolComplete(t *testing.T) {
	tr, _ := newCounting(Options{})
	assert.False(t, tr.ToolComplete())
	tr.MarkToolComplete()
	assert.True(t, tr.ToolComplete())
}
