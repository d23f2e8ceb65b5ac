package collector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mixer/clock"
)

const errorRetryDelay = 60 * time.Second

// Actor runs collection cycles on a fixed interval until interrupted.
// It plugs into a rungroup. Interrupt cancels the cycle context, so a
// shutdown mid-cycle stops dispatching further hosts instead of
// waiting for the whole fan-out to finish.
type Actor struct {
	slogger     *slog.Logger
	collector   *Collector
	interval    time.Duration
	clock       clock.Clock
	ctx         context.Context
	cancel      context.CancelFunc
	interrupt   chan struct{}
	interrupted atomic.Bool
}

type ActorOption func(*Actor)

// WithClock swaps the scheduling clock, for tests.
func WithClock(c clock.Clock) ActorOption {
	return func(a *Actor) {
		a.clock = c
	}
}

func NewActor(ctx context.Context, slogger *slog.Logger, collector *Collector, interval time.Duration, opts ...ActorOption) *Actor {
	ctx, cancel := context.WithCancel(ctx)

	a := &Actor{
		slogger:   slogger.With("component", "collector_actor"),
		collector: collector,
		interval:  interval,
		clock:     clock.DefaultClock{},
		ctx:       ctx,
		cancel:    cancel,
		interrupt: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Execute runs collection cycles until Interrupt is called. A cycle
// that fails to store its results delays the next attempt rather than
// stopping the loop.
func (a *Actor) Execute() error {
	a.slogger.Log(a.ctx, slog.LevelInfo,
		"continuous collection started",
		"interval", a.interval.String(),
	)

	for {
		delay := a.interval
		if _, err := a.collector.RunCycle(a.ctx); err != nil {
			a.slogger.Log(a.ctx, slog.LevelError,
				"collection cycle failed",
				"err", err,
			)
			delay = errorRetryDelay
		}

		timer := a.clock.NewTimer(delay)
		select {
		case <-timer.Chan():
		case <-a.ctx.Done():
			timer.Stop()
			return nil
		case <-a.interrupt:
			timer.Stop()
			return nil
		}
	}
}

// Interrupt stops the loop and cancels any in-flight cycle. Safe to
// call more than once.
func (a *Actor) Interrupt(_ error) {
	if a.interrupted.Swap(true) {
		return
	}
	a.cancel()
	close(a.interrupt)
}
