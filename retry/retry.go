// Package retry provides bounded exponential backoff with jitter for model
// calls, and the error classification that decides what is worth retrying.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
	"unicode/utf8"
)

// Config configures Do.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps a single backoff. Zero means uncapped.
	MaxDelay time.Duration
	// Jitter is the relative random spread applied to each delay, e.g. 0.3 for ±30%.
	Jitter float64
	// Retryable decides whether an error is retried. Nil retries transient errors.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// TextStream is the retry policy of the streaming text phase.
func TextStream() Config {
	return Config{MaxRetries: 2, BaseDelay: time.Second, Jitter: 0.3}
}

// ToolLoop is the retry policy of tool-call orchestration.
func ToolLoop() Config {
	return Config{MaxRetries: 2, BaseDelay: 2 * time.Second, MaxDelay: 8 * time.Second, Jitter: 0.3}
}

// Delay returns the backoff before retry number attempt (0-based).
func (c Config) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.Jitter > 0 {
		//nolint:gosec // jitter does not need a secure source
		delay += time.Duration(float64(delay) * c.Jitter * (2*rand.Float64() - 1))
	}
	return max(delay, 0)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the retries
// are used up. The last error is returned unwrapped so callers can classify it.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !retryable(err) || ctx.Err() != nil {
			return err
		}

		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}
}

var transientMarkers = []string{
	"429",
	"rate limit",
	"quota",
	"retry",
	"resource_exhausted",
	"temporarily",
	"upstream",
	"sending the request was interrupted",
}

// IsTransient reports whether err looks like rate limiting or a network blip.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsInterrupted reports whether err is a cancellation rather than a failure.
// context.Canceled always is. Otherwise the message must mention an
// interruption and match none of the transient markers, so a retryable
// transport error is never treated as a cancellation.
func IsInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "interrupted") {
		return false
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return false
		}
	}
	return true
}

// MaxMessageLength bounds messages produced by SafeMessage, in runes.
const MaxMessageLength = 300

// SafeMessage renders err for user-facing events: single line, bounded length.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		runes := []rune(msg)
		msg = string(runes[:MaxMessageLength]) + "…"
	}
	return msg
}
