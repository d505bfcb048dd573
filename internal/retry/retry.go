// Package retry retries calls that fail with transient network errors.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Transient is implemented by errors that are worth retrying,
// e.g. timeouts and refused connections.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether any error in err's chain is transient.
func IsTransient(err error) bool {
	var t Transient
	return errors.As(err, &t) && t.Transient()
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy configures Do. The zero value uses DefaultPolicy's values.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// Backoff is multiplied by the attempt number: 2s, 4s, 6s...
	Backoff time.Duration
	Sleep   Sleeper
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy makes three attempts with a 2 second linear backoff.
var DefaultPolicy = Policy{Attempts: 3, Backoff: 2 * time.Second}

// Do calls fn until it succeeds, returns a non-transient error, or runs out of attempts.
// The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.Attempts <= 0 {
		p.Attempts = DefaultPolicy.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultPolicy.Backoff
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) || attempt == p.Attempts {
			return result, err
		}

		wait := p.Backoff * time.Duration(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		} else {
			logrus.WithFields(logrus.Fields{
				"attempt": attempt,
				"wait":    wait,
			}).WithError(err).Warn("transient API error, retrying")
		}
		if serr := p.Sleep(ctx, wait); serr != nil {
			return result, serr
		}
	}
	return result, err
}

// Run is Do for calls without a result.
func Run(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// SleepContext sleeps for d, returning early with ctx.Err() when ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
