package resolve

import (
	"context"
	"time"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

const (
	// DefaultMaxAttempts bounds a retry resolution.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the delay before the first retry attempt.
	DefaultBaseDelay = 2 * time.Second
)

// Delay returns the backoff before the given zero-based attempt: base * 2^attempt.
func Delay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryOperation re-invokes whatever failed. attempt is zero-based; the
// result of attempt 0 is treated as a reproduction of the original failure.
type RetryOperation func(ctx context.Context, attempt int, issue pipeline.Issue) bool

// AssumeRecovered is the default RetryOperation. The failing work is owned by
// the phase executor, so the resolver can only assume the condition cleared.
func AssumeRecovered(context.Context, int, pipeline.Issue) bool {
	return true
}
