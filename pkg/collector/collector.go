// Package collector pulls Windows event logs from the configured remote
// hosts and stores the parsed entries. One cycle fans out across hosts
// under a concurrency cap, tolerates per-host and per-channel failures,
// and flushes everything it gathered in a single batch.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/credentials"
	"github.com/sentinelsh/sentinel/pkg/eventlog"
	"github.com/sentinelsh/sentinel/pkg/winremote"
)

// Store is the slice of the log store the collector needs.
type Store interface {
	InsertBatch(ctx context.Context, entries []eventlog.LogEntry) (int, error)
}

// SessionFactory builds a Runner for one target. Production wires this
// to winremote.NewSession; tests substitute fakes.
type SessionFactory func(target config.Target, cred credentials.Credential) (winremote.Runner, error)

// HostResult is the outcome of one host within a cycle.
type HostResult struct {
	Host    string
	Entries int
	// ChannelErrs maps channel name to the failure it hit, for
	// channels that failed while others on the same host succeeded.
	ChannelErrs map[string]error
	// Err is set when the whole host was unreachable.
	Err error
}

// CycleStats summarizes one collection cycle.
type CycleStats struct {
	Hosts    []HostResult
	Parsed   int
	Inserted int
	Elapsed  time.Duration
}

// Failed counts hosts that produced nothing because they were
// unreachable.
func (c CycleStats) Failed() int {
	n := 0
	for _, h := range c.Hosts {
		if h.Err != nil {
			n += 1
		}
	}
	return n
}

// Collector runs collection cycles against the configured targets.
type Collector struct {
	slogger  *slog.Logger
	cfg      *config.Config
	store    Store
	creds    credentials.Provider
	sessions SessionFactory
	now      func() time.Time
}

type Option func(*Collector)

// WithSessionFactory substitutes the WinRM session constructor.
func WithSessionFactory(f SessionFactory) Option {
	return func(c *Collector) {
		c.sessions = f
	}
}

// WithNowFunc substitutes the wall clock used for the time filter.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

func New(slogger *slog.Logger, cfg *config.Config, store Store, creds credentials.Provider, opts ...Option) *Collector {
	c := &Collector{
		slogger: slogger.With("component", "collector"),
		cfg:     cfg,
		store:   store,
		creds:   creds,
		sessions: func(target config.Target, cred credentials.Credential) (winremote.Runner, error) {
			return winremote.NewSession(slogger, target, cred)
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RunCycle collects from every target, bounded by the configured host
// concurrency, and flushes all parsed entries in one batch. Host and
// channel failures are recorded in the stats, not returned; the cycle
// errors only when the final store write fails. Cancelling ctx stops
// dispatching further hosts; entries already gathered are flushed
// anyway.
func (c *Collector) RunCycle(ctx context.Context) (CycleStats, error) {
	start := c.now()
	since := start.Add(-time.Duration(c.cfg.Collection.HoursBack) * time.Hour)

	stats := CycleStats{Hosts: make([]HostResult, len(c.cfg.Targets))}

	sem := semaphore.NewWeighted(int64(c.cfg.Collection.ConcurrentHosts))
	var mu sync.Mutex
	var all []eventlog.LogEntry
	var wg sync.WaitGroup

	for i, target := range c.cfg.Targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			stats.Hosts[i] = HostResult{Host: target.IP, Err: fmt.Errorf("acquiring collection slot: %w", err)}
			continue
		}

		wg.Add(1)
		go func(i int, target config.Target) {
			defer wg.Done()
			defer sem.Release(1)

			entries, result := c.collectHost(ctx, target, since)
			mu.Lock()
			all = append(all, entries...)
			stats.Hosts[i] = result
			mu.Unlock()
		}(i, target)
	}

	wg.Wait()

	stats.Parsed = len(all)

	// A cancelled ctx stops dispatching hosts, but whatever the cycle
	// already gathered still gets flushed.
	inserted, err := c.store.InsertBatch(context.WithoutCancel(ctx), all)
	if err != nil {
		return stats, fmt.Errorf("storing collected entries: %w", err)
	}
	stats.Inserted = inserted
	stats.Elapsed = c.now().Sub(start)

	c.slogger.Log(ctx, slog.LevelInfo,
		"collection cycle complete",
		"hosts", len(c.cfg.Targets),
		"failed_hosts", stats.Failed(),
		"entries", stats.Inserted,
		"elapsed", stats.Elapsed.String(),
	)

	return stats, nil
}

// collectHost pulls every configured channel from one target. A channel
// failure is recorded and the remaining channels still run; only an
// unreachable host aborts.
func (c *Collector) collectHost(ctx context.Context, target config.Target, since time.Time) ([]eventlog.LogEntry, HostResult) {
	result := HostResult{Host: target.IP}
	slogger := c.slogger.With("host", target.IP)

	cred, err := c.creds.Credentials(target.IP)
	if err != nil {
		result.Err = fmt.Errorf("resolving credentials: %w", err)
		slogger.Log(ctx, slog.LevelError,
			"skipping host, no credentials",
			"err", err,
		)
		return nil, result
	}

	session, err := c.sessions(target, cred)
	if err != nil {
		result.Err = fmt.Errorf("building session: %w", err)
		slogger.Log(ctx, slog.LevelError,
			"skipping host, session setup failed",
			"err", err,
		)
		return nil, result
	}

	var entries []eventlog.LogEntry
	for _, channel := range c.cfg.Collection.LogTypes {
		res, err := session.Run(ctx, buildEventQuery(channel, since, c.cfg.Collection.MaxEvents))
		if err != nil {
			if result.ChannelErrs == nil {
				result.ChannelErrs = make(map[string]error)
			}
			result.ChannelErrs[channel] = err
			slogger.Log(ctx, slog.LevelError,
				"channel collection failed",
				"channel", channel,
				"err", err,
			)
			continue
		}

		parsed, parseStats := eventlog.Parse(slogger, res.Stdout)
		for i := range parsed {
			parsed[i].Computer = target.IP
			parsed[i].LogName = channel
		}
		entries = append(entries, parsed...)

		slogger.Log(ctx, slog.LevelInfo,
			"collected channel",
			"channel", channel,
			"entries", parseStats.Events,
			"skipped", parseStats.Skipped,
			"parse_errors", parseStats.ParseErrors,
		)
	}

	result.Entries = len(entries)
	return entries, result
}

// buildEventQuery renders the remote PowerShell that dumps matching
// events as XML documents separated by the parser's sentinel line.
func buildEventQuery(channel string, since time.Time, maxEvents int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "$startTime = [DateTime]::Parse('%s')\n", since.UTC().Format("2006-01-02T15:04:05.000Z"))
	fmt.Fprintf(&sb, "$events = Get-WinEvent -FilterHashtable @{\n")
	fmt.Fprintf(&sb, "    LogName='%s'\n", channel)
	fmt.Fprintf(&sb, "    StartTime=$startTime\n")
	fmt.Fprintf(&sb, "} -ErrorAction SilentlyContinue -MaxEvents %d\n\n", maxEvents)
	sb.WriteString("if ($events) {\n")
	sb.WriteString("    $events | ForEach-Object {\n")
	sb.WriteString("        $_.ToXml()\n")
	fmt.Fprintf(&sb, "        Write-Output \"%s\"\n", eventlog.Separator)
	sb.WriteString("    }\n")
	sb.WriteString("}\n")
	return sb.String()
}
