// Package rungroup coordinates the process's long-lived actors (the
// collector loop, the watcher, the signal listener): all are started
// together, and when any one stops, the rest are interrupted and given
// a bounded window to exit.
package rungroup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

type (
	Group struct {
		slogger *slog.Logger
		actors  []actor
	}

	actor struct {
		name      string // human-readable identifier for the actor
		execute   func() error
		interrupt func(error)
	}

	actorError struct {
		errorSourceName string
		err             error
	}
)

const (
	interruptTimeout     = 10 * time.Second // How long for all actors to return from their `interrupt` function
	executeReturnTimeout = 5 * time.Second  // After interrupted, how long for all actors to exit their `execute` functions
)

func NewRunGroup(slogger *slog.Logger) *Group {
	return &Group{
		slogger: slogger.With("component", "run_group"),
		actors:  make([]actor, 0),
	}
}

func (g *Group) Add(name string, execute func() error, interrupt func(error)) {
	g.actors = append(g.actors, actor{name, execute, interrupt})
}

func (g *Group) Run() error {
	if len(g.actors) == 0 {
		return nil
	}

	g.slogger.Log(context.TODO(), slog.LevelDebug,
		"starting all actors",
		"actor_count", len(g.actors),
	)

	actorErrors := make(chan actorError, len(g.actors))
	for _, a := range g.actors {
		a := a
		go func() {
			defer func() {
				if r := recover(); r != nil {
					g.slogger.Log(context.TODO(), slog.LevelError,
						"shutting down after actor panic",
						"actor", a.name,
						"panic", r,
					)
					actorErrors <- actorError{
						errorSourceName: a.name,
						err:             fmt.Errorf("actor %s panicked: %+v", a.name, r),
					}
				}
			}()

			g.slogger.Log(context.TODO(), slog.LevelDebug,
				"starting actor",
				"actor", a.name,
			)
			actorErrors <- actorError{
				errorSourceName: a.name,
				err:             a.execute(),
			}
		}()
	}

	// Wait for the first actor to stop.
	initialActorErr := <-actorErrors

	g.slogger.Log(context.TODO(), slog.LevelInfo,
		"received return from first actor, interrupting remaining actors",
		"err", initialActorErr.err,
		"error_source", initialActorErr.errorSourceName,
	)

	// Signal all actors to stop.
	numActors := int64(len(g.actors))
	interruptWait := semaphore.NewWeighted(numActors)
	for _, a := range g.actors {
		a := a
		interruptWait.Acquire(context.Background(), 1)
		go func() {
			defer interruptWait.Release(1)
			a.interrupt(initialActorErr.err)
			g.slogger.Log(context.TODO(), slog.LevelDebug,
				"interrupt complete",
				"actor", a.name,
			)
		}()
	}

	interruptCtx, interruptCancel := context.WithTimeout(context.Background(), interruptTimeout)
	defer interruptCancel()

	// Wait for interrupts to complete, but only until interruptCtx times out.
	if err := interruptWait.Acquire(interruptCtx, numActors); err != nil {
		g.slogger.Log(context.TODO(), slog.LevelDebug,
			"timeout waiting for interrupts to complete, proceeding with shutdown",
			"err", err,
		)
	}

	// Wait for the other actors to exit execute, bounded by executeReturnTimeout.
	timeoutTimer := time.NewTimer(executeReturnTimeout)
	defer timeoutTimer.Stop()
	for i := 1; i < cap(actorErrors); i++ {
		select {
		case <-timeoutTimer.C:
			g.slogger.Log(context.TODO(), slog.LevelDebug,
				"shutdown deadline exceeded, not waiting for any more actors to return",
			)
			return initialActorErr.err
		case e := <-actorErrors:
			g.slogger.Log(context.TODO(), slog.LevelDebug,
				"received return from actor",
				"actor", e.errorSourceName,
				"err", e.err,
			)
		}
	}

	return initialActorErr.err
}

func (a actorError) String() string {
	return fmt.Sprintf("%s returned error: %+v", a.errorSourceName, a.err)
}
