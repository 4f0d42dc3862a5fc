package textphase

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestBatcher_MinBatchAndOverlap(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newBatcher(10, 3, time.Hour, clock.now)

	_, _, ok := b.write("abcde")
	assert.False(t, ok)

	delta, end, ok := b.write("fghij")
	assert.True(t, ok)
	assert.Equal(t, "abcdefghij", delta)
	assert.Equal(t, 10, end)

	_, _, ok = b.write("klmno")
	assert.False(t, ok, "8 unconsumed runes including overlap")

	delta, end, ok = b.write("pq")
	assert.True(t, ok)
	assert.Equal(t, "hijklmnopq", delta)
	assert.Equal(t, 17, end)

	_, _, ok = b.tail()
	assert.False(t, ok, "nothing new since the last hand-off")

	b.write("rs")
	tail, end, ok := b.tail()
	assert.True(t, ok)
	assert.Equal(t, "opqrs", tail)
	assert.Equal(t, 19, end)
}

func TestBatcher_FlushInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newBatcher(800, 120, 10*time.Second, clock.now)

	_, _, ok := b.write("short")
	assert.False(t, ok)

	clock.t = clock.t.Add(11 * time.Second)
	delta, _, ok := b.write(" text")
	assert.True(t, ok)
	assert.Equal(t, "short text", delta)
}

func TestBatcher_CountsRunes(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newBatcher(4, 0, time.Hour, clock.now)

	delta, end, ok := b.write("魔法系统")
	assert.True(t, ok)
	assert.Equal(t, "魔法系统", delta)
	assert.Equal(t, 4, end)
	assert.Equal(t, 4, b.Len())
	assert.True(t, strings.HasPrefix(b.String(), "魔法"))
}
