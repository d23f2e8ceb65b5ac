// Package backoff retries fallible operations on a fixed delay. The
// remote executor uses it for WinRM calls, where transient transport
// failures are routine but auth and script errors must surface at once.
package backoff

import (
	"context"
	"time"

	"github.com/mixer/clock"
	"github.com/pkg/errors"
)

// Backoff retries an operation a fixed number of times with a fixed
// delay between attempts.
type Backoff struct {
	maxAttempts int
	delay       time.Duration
	retriable   func(error) bool
	clock       clock.Clock
}

type Option func(*Backoff)

// WithAttempts caps the total number of attempts, including the first.
func WithAttempts(n int) Option {
	return func(b *Backoff) {
		b.maxAttempts = n
	}
}

// WithDelay sets the fixed wait between attempts.
func WithDelay(d time.Duration) Option {
	return func(b *Backoff) {
		b.delay = d
	}
}

// WithRetriable restricts which errors are retried; any other error is
// returned immediately.
func WithRetriable(fn func(error) bool) Option {
	return func(b *Backoff) {
		b.retriable = fn
	}
}

// WithClock swaps the wall clock, so tests can run without sleeping.
func WithClock(c clock.Clock) Option {
	return func(b *Backoff) {
		b.clock = c
	}
}

// New returns a Backoff with 3 attempts and a 5 second delay, retrying
// every error.
func New(opts ...Option) *Backoff {
	b := &Backoff{
		maxAttempts: 3,
		delay:       5 * time.Second,
		retriable:   func(error) bool { return true },
		clock:       clock.DefaultClock{},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Run invokes runFunc until it succeeds, returns a non-retriable error,
// the attempt budget is spent, or ctx is canceled.
func (b *Backoff) Run(ctx context.Context, runFunc func() error) error {
	var err error
	for attempt := 1; ; attempt += 1 {
		err = runFunc()
		if err == nil {
			return nil
		}

		if !b.retriable(err) {
			return err
		}

		if attempt >= b.maxAttempts {
			return errors.Wrapf(err, "done trying after %d attempts", b.maxAttempts)
		}

		timer := b.clock.NewTimer(b.delay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "canceled between attempts")
		}
	}
}
