package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo_RetriesTransientErrors(t *testing.T) {
	cfg := Config{MaxRetries: 2, BaseDelay: time.Millisecond}
	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("HTTP 429: rate limit exceeded")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAfterMaxRetries(t *testing.T) {
	var retries []int
	cfg := Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		OnRetry:    func(attempt int, _ time.Duration, _ error) { retries = append(retries, attempt) },
	}
	calls := 0
	boom := errors.New("quota exhausted")
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxRetries: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("invalid api key")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 3, BaseDelay: time.Hour}
	time.AfterFunc(20*time.Millisecond, cancel)
	calls := 0
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		return errors.New("upstream busy")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestConfig_Delay(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, cfg.Delay(0))
	assert.Equal(t, 2*time.Second, cfg.Delay(1))
	assert.Equal(t, 3*time.Second, cfg.Delay(2))

	jittered := Config{BaseDelay: time.Second, Jitter: 0.3}
	for i := 0; i < 20; i++ {
		d := jittered.Delay(0)
		assert.GreaterOrEqual(t, d, 700*time.Millisecond)
		assert.LessOrEqual(t, d, 1300*time.Millisecond)
	}
}

func TestClassification(t *testing.T) {
	assert.True(t, IsTransient(errors.New("RESOURCE_EXHAUSTED")))
	assert.True(t, IsTransient(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.False(t, IsTransient(nil))

	assert.True(t, IsInterrupted(fmt.Errorf("stream: %w", context.Canceled)))
	assert.True(t, IsInterrupted(errors.New("stream interrupted by client")))
	assert.False(t, IsInterrupted(errors.New("429")))
}

func TestClassification_InterruptedTransportIsTransientOnly(t *testing.T) {
	for _, msg := range []string{
		"Sending the request was interrupted",
		"upstream connection interrupted",
		"rate limit hit, stream interrupted",
	} {
		err := errors.New(msg)
		assert.True(t, IsTransient(err), msg)
		assert.False(t, IsInterrupted(err), msg)
	}
}

func TestSafeMessage(t *testing.T) {
	assert.Equal(t, "line one line two", SafeMessage(errors.New("line one\nline two")))

	long := SafeMessage(errors.New(strings.Repeat("é", MaxMessageLength+10)))
	assert.True(t, strings.HasSuffix(long, "…"))
	assert.Equal(t, MaxMessageLength+1, len([]rune(long)))
	assert.Empty(t, SafeMessage(nil))
}
