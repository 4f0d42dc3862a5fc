package events

import (
	"context"
	"sync"
	"time"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

// DefaultHeartbeat is the heartbeat interval used when none is configured.
const DefaultHeartbeat = 15 * time.Second

// BusOptions configures a Bus.
type BusOptions struct {
	// Heartbeat is the interval between heartbeat events. Zero uses DefaultHeartbeat,
	// a negative value disables heartbeats.
	Heartbeat time.Duration

	// OutputBuffer is the size of each subscriber's output channel.
	OutputBuffer int

	Logger log.Logger
}

// Bus is a replaying, multi-subscriber event channel for one session.
type Bus struct {
	sessionID string
	opts      BusOptions
	logger    log.Logger

	mu      sync.Mutex
	history []setting.Event
	subs    map[*subscriber]struct{}
	done    chan struct{}
	closed  bool
}

var _ setting.Emitter = (*Bus)(nil)

// NewBus creates a bus with an open flow.
func NewBus(sessionID string, opts BusOptions) *Bus {
	if opts.Heartbeat == 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.OutputBuffer <= 0 {
		opts.OutputBuffer = 64
	}
	return &Bus{
		sessionID: sessionID,
		opts:      opts,
		logger:    log.OrDefault(opts.Logger),
		subs:      make(map[*subscriber]struct{}),
		done:      make(chan struct{}),
	}
}

// Emit records e and delivers it to every current subscriber. It never blocks
// on slow consumers.
func (b *Bus) Emit(e setting.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, e)
	for s := range b.subs {
		s.push(e)
	}
}

// Subscribe attaches a consumer. The returned channel is closed when the flow
// completes and everything queued has been delivered, when ctx is done, or
// when the cancel function is called.
func (b *Bus) Subscribe(ctx context.Context) (<-chan setting.Event, func()) {
	out := make(chan setting.Event, b.opts.OutputBuffer)
	s := &subscriber{
		out:    out,
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}

	b.mu.Lock()
	s.queue = make([]setting.Event, 0, len(b.history)+1)
	s.queue = append(s.queue, setting.GenerationProgress{
		Envelope: setting.NewEnvelope(b.sessionID),
		Message:  setting.ProgressStreamReady,
	})
	s.queue = append(s.queue, b.history...)
	b.subs[s] = struct{}{}
	done := b.done
	b.mu.Unlock()

	s.signal()
	go b.pump(ctx, s, done)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(s.quit)
			b.detach(s)
		})
	}
	return out, cancel
}

func (b *Bus) detach(s *subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *Bus) pump(ctx context.Context, s *subscriber, done <-chan struct{}) {
	defer close(s.out)
	defer b.detach(s)

	var tick <-chan time.Time
	if b.opts.Heartbeat > 0 {
		t := time.NewTicker(b.opts.Heartbeat)
		defer t.Stop()
		tick = t.C
	}

	flowDone := done
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-s.notify:
		case <-flowDone:
			flowDone = nil
			tick = nil
		case <-tick:
			s.push(setting.GenerationProgress{
				Envelope: setting.NewEnvelope(b.sessionID),
				Message:  setting.ProgressHeartbeat,
			})
		}

		for _, e := range s.drain() {
			select {
			case s.out <- e:
			case <-ctx.Done():
				return
			case <-s.quit:
				return
			}
		}

		if flowDone == nil {
			// The flow is over: flush anything emitted while draining, then stop.
			if rest := s.drain(); len(rest) > 0 {
				for _, e := range rest {
					select {
					case s.out <- e:
					case <-ctx.Done():
						return
					case <-s.quit:
						return
					}
				}
			}
			return
		}
	}
}

// Complete ends the current flow. Subscribers receive what is queued and
// their channels close. Calling Complete twice is harmless.
func (b *Bus) Complete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	b.logger.Debug("[session %s] event flow completed", b.sessionID)
}

// Reopen starts a new flow after Complete. New subscribers get the full
// history again and stay attached until the next Complete.
func (b *Bus) Reopen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		return
	}
	b.closed = false
	b.done = make(chan struct{})
}

// Completed reports whether the current flow has ended.
func (b *Bus) Completed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// History returns a copy of every event emitted so far.
func (b *Bus) History() []setting.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]setting.Event(nil), b.history...)
}

type subscriber struct {
	out    chan setting.Event
	notify chan struct{}
	quit   chan struct{}

	mu    sync.Mutex
	queue []setting.Event
}

func (s *subscriber) push(e setting.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() []setting.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}
