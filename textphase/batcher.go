package textphase

import (
	"time"
)

// batcher accumulates streamed text and decides when a delta is handed off.
// Offsets are in runes.
type batcher struct {
	minBatch int
	overlap  int
	interval time.Duration
	now      func() time.Time

	text      []rune
	consumed  int
	flushed   int
	lastFlush time.Time
}

func newBatcher(minBatch, overlap int, interval time.Duration, now func() time.Time) *batcher {
	return &batcher{
		minBatch:  minBatch,
		overlap:   overlap,
		interval:  interval,
		now:       now,
		lastFlush: now(),
	}
}

// write appends a chunk. When enough new text has arrived, or the flush
// interval has passed, it returns the unconsumed delta and its end offset.
func (b *batcher) write(chunk string) (delta string, end int, ok bool) {
	if chunk == "" {
		return "", 0, false
	}
	b.text = append(b.text, []rune(chunk)...)
	total := len(b.text)
	if total-b.consumed < b.minBatch && b.now().Sub(b.lastFlush) < b.interval {
		return "", 0, false
	}
	return b.take(), total, true
}

// tail returns what has not been handed off yet. It is empty when nothing
// arrived since the last delta.
func (b *batcher) tail() (string, int, bool) {
	total := len(b.text)
	if total <= b.flushed {
		return "", 0, false
	}
	return b.take(), total, true
}

func (b *batcher) take() string {
	total := len(b.text)
	delta := string(b.text[b.consumed:total])
	b.consumed = max(b.consumed, total-b.overlap)
	b.flushed = total
	b.lastFlush = b.now()
	return delta
}

// String returns everything written so far.
func (b *batcher) String() string { return string(b.text) }

// Len returns the number of runes written.
func (b *batcher) Len() int { return len(b.text) }
