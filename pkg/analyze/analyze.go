// Package analyze answers questions about stored events: ad-hoc
// searches, live tailing, and periodic security posture reports.
package analyze

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

// Store is the read side of the log store.
type Store interface {
	Query(ctx context.Context, query string, args ...any) (*logstore.Result, error)
}

// Analyzer runs read queries against the event store.
type Analyzer struct {
	slogger *slog.Logger
	store   Store
	now     func() time.Time
}

type Option func(*Analyzer)

// WithNowFunc substitutes the wall clock, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

func New(slogger *slog.Logger, store Store, opts ...Option) *Analyzer {
	a := &Analyzer{
		slogger: slogger.With("component", "analyze"),
		store:   store,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// SearchOptions filter a log search. Zero values mean "no filter".
type SearchOptions struct {
	EventID   int
	Severity  string
	Host      string
	TimeRange string
	Limit     int
}

// Search returns matching entries, newest first.
func (a *Analyzer) Search(ctx context.Context, opts SearchOptions) (*logstore.Result, error) {
	timeRange := opts.TimeRange
	if timeRange == "" {
		timeRange = "24h"
	}
	hours, err := ParseTimeRange(timeRange)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var sb strings.Builder
	args := []any{a.now().UTC().Add(-time.Duration(hours) * time.Hour)}

	sb.WriteString(`SELECT timestamp, computer, log_name, event_id, level, source, message FROM logs WHERE timestamp >= ?`)
	if opts.EventID != 0 {
		sb.WriteString(` AND event_id = ?`)
		args = append(args, opts.EventID)
	}
	if opts.Severity != "" {
		sb.WriteString(` AND lower(level) = ?`)
		args = append(args, strings.ToLower(opts.Severity))
	}
	if opts.Host != "" {
		sb.WriteString(` AND computer LIKE ?`)
		args = append(args, "%"+opts.Host+"%")
	}
	sb.WriteString(` ORDER BY timestamp DESC LIMIT ?`)
	args = append(args, limit)

	return a.store.Query(ctx, sb.String(), args...)
}

// Recent returns the newest count entries. The filter, when set, is a
// raw SQL condition such as "event_id=4625"; like the query command,
// this is an operator-facing escape hatch, not an untrusted input path.
func (a *Analyzer) Recent(ctx context.Context, count int, filter string) (*logstore.Result, error) {
	if count <= 0 {
		count = 50
	}

	query := `SELECT timestamp, computer, log_name, event_id, level, source, message FROM logs`
	if filter != "" {
		query += ` WHERE ` + filter
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`

	return a.store.Query(ctx, query, count)
}

// TailBatch returns entries newer than since in ascending order, capped
// at 100, along with the watermark for the next call. With no new
// entries the watermark is returned unchanged.
func (a *Analyzer) TailBatch(ctx context.Context, since time.Time, filter string) (*logstore.Result, time.Time, error) {
	query := `SELECT timestamp, computer, event_id, level, message FROM logs WHERE timestamp > ?`
	if filter != "" {
		query += ` AND ` + filter
	}
	query += ` ORDER BY timestamp ASC LIMIT 100`

	res, err := a.store.Query(ctx, query, since)
	if err != nil {
		return nil, since, fmt.Errorf("tailing logs: %w", err)
	}

	next := since
	for _, row := range res.Rows {
		ts, err := time.Parse("2006-01-02 15:04:05", row[0])
		if err != nil {
			continue
		}
		if ts.After(next) {
			next = ts
		}
	}

	return res, next, nil
}

// SeverityCount is one row of the severity breakdown.
type SeverityCount struct {
	Level string
	Count string
}

// EventIDCount is one row of the most-frequent-events breakdown.
type EventIDCount struct {
	EventID string
	Count   string
}

// Breakdown summarizes stored events for the status command.
type Breakdown struct {
	BySeverity  []SeverityCount
	TopEventIDs []EventIDCount
}

func (a *Analyzer) Breakdown(ctx context.Context) (*Breakdown, error) {
	b := &Breakdown{}

	res, err := a.store.Query(ctx, `SELECT level, count(*) FROM logs GROUP BY level ORDER BY count(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("reading severity breakdown: %w", err)
	}
	for _, row := range res.Rows {
		b.BySeverity = append(b.BySeverity, SeverityCount{Level: row[0], Count: row[1]})
	}

	res, err = a.store.Query(ctx, `SELECT event_id, count(*) FROM logs GROUP BY event_id ORDER BY count(*) DESC LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("reading top event ids: %w", err)
	}
	for _, row := range res.Rows {
		b.TopEventIDs = append(b.TopEventIDs, EventIDCount{EventID: row[0], Count: row[1]})
	}

	return b, nil
}

// WriteCSV writes a query result as CSV, header row first.
func WriteCSV(w io.Writer, res *logstore.Result) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(res.Columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range res.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
