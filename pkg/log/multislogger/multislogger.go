// Package multislogger fans one slog.Logger out to any number of
// handlers (stderr, rotating debug file, test buffers), normalizing
// record timestamps to UTC and attaching collection-cycle context
// values as attributes.
package multislogger

import (
	"context"
	"io"
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
)

type contextKey string

func (c contextKey) String() string {
	return string(c)
}

const (
	// CycleIDKey identifies one pass of the collector pool across all hosts.
	CycleIDKey contextKey = "cycle_id"
	// AlertIDKey identifies one rule-fire dispatch in the watcher.
	AlertIDKey contextKey = "alert_id"
)

// ctxValueKeysToAdd lists the context keys that become log attributes
// on every record.
var ctxValueKeysToAdd = []contextKey{
	CycleIDKey,
	AlertIDKey,
}

type MultiSlogger struct {
	*slog.Logger
	handlers []slog.Handler
}

// New creates a multislogger; with no handlers it discards all logs.
func New(h ...slog.Handler) *MultiSlogger {
	ms := new(MultiSlogger)

	if len(h) == 0 {
		// Keep the discard handler out of ms.handlers so it drops out
		// as soon as a real handler is added.
		ms.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		return ms
	}

	ms.AddHandler(h...)
	return ms
}

// NewNopLogger returns a logger that discards everything. Tests and
// default-constructed components use it.
func NewNopLogger() *slog.Logger {
	return New().Logger
}

// AddHandler adds handlers to the fanout. The underlying slog.Logger is
// rebuilt, so attributes previously attached with Logger.With are lost.
func (m *MultiSlogger) AddHandler(handler ...slog.Handler) {
	m.handlers = append(m.handlers, handler...)

	m.Logger = slog.New(
		slogmulti.
			Pipe(slogmulti.NewHandleInlineMiddleware(utcTimeMiddleware)).
			Pipe(slogmulti.NewHandleInlineMiddleware(ctxValuesMiddleware)).
			Handler(slogmulti.Fanout(m.handlers...)),
	)
}

func utcTimeMiddleware(ctx context.Context, record slog.Record, next func(context.Context, slog.Record) error) error {
	record.Time = record.Time.UTC()
	return next(ctx, record)
}

func ctxValuesMiddleware(ctx context.Context, record slog.Record, next func(context.Context, slog.Record) error) error {
	for _, key := range ctxValueKeysToAdd {
		if v := ctx.Value(key); v != nil {
			record.AddAttrs(slog.Attr{
				Key:   key.String(),
				Value: slog.AnyValue(v),
			})
		}
	}

	return next(ctx, record)
}
