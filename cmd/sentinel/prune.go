package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mixer/clock"

	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

const pruneInterval = 24 * time.Hour

// pruneActor enforces the retention window while the continuous
// collector runs, deleting expired entries once a day.
type pruneActor struct {
	slogger       *slog.Logger
	store         *logstore.Store
	retentionDays int
	clock         clock.Clock
	interrupt     chan struct{}
	interrupted   atomic.Bool
}

func newPruneActor(slogger *slog.Logger, store *logstore.Store, retentionDays int) *pruneActor {
	return &pruneActor{
		slogger:       slogger.With("component", "pruner"),
		store:         store,
		retentionDays: retentionDays,
		clock:         clock.DefaultClock{},
		interrupt:     make(chan struct{}),
	}
}

func (p *pruneActor) Execute() error {
	ctx := context.Background()

	for {
		cutoff := p.clock.Now().UTC().AddDate(0, 0, -p.retentionDays)
		deleted, err := p.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			p.slogger.Log(ctx, slog.LevelError,
				"retention prune failed",
				"err", err,
			)
		} else if deleted > 0 {
			p.slogger.Log(ctx, slog.LevelInfo,
				"pruned expired entries",
				"deleted", deleted,
				"cutoff", cutoff.Format(time.RFC3339),
			)
		}

		timer := p.clock.NewTimer(pruneInterval)
		select {
		case <-timer.Chan():
		case <-p.interrupt:
			timer.Stop()
			return nil
		}
	}
}

func (p *pruneActor) Interrupt(_ error) {
	if p.interrupted.Swap(true) {
		return
	}
	close(p.interrupt)
}
