package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/credentials"
	"github.com/sentinelsh/sentinel/pkg/eventlog"
	"github.com/sentinelsh/sentinel/pkg/log/multislogger"
	"github.com/sentinelsh/sentinel/pkg/winremote"
)

type memStore struct {
	mu      sync.Mutex
	entries []eventlog.LogEntry
	batches int
	err     error
}

func (m *memStore) InsertBatch(ctx context.Context, entries []eventlog.LogEntry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.entries = append(m.entries, entries...)
	m.batches += 1
	return len(entries), nil
}

type fakeRunner struct {
	stdout  []byte
	err     error
	delay   time.Duration
	perChan map[string]error // channel name -> error, matched by substring in the script

	inflight   *atomic.Int32
	maxSeen    *atomic.Int32
	runs       atomic.Int32
	lastScript string
}

func (f *fakeRunner) Run(_ context.Context, script string) (winremote.Result, error) {
	if f.inflight != nil {
		cur := f.inflight.Add(1)
		for {
			max := f.maxSeen.Load()
			if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
				break
			}
		}
		defer f.inflight.Add(-1)
	}
	f.runs.Add(1)
	f.lastScript = script

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return winremote.Result{}, f.err
	}
	for channel, err := range f.perChan {
		if strings.Contains(script, "LogName='"+channel+"'") && err != nil {
			return winremote.Result{}, err
		}
	}
	return winremote.Result{Stdout: f.stdout}, nil
}

func eventXML(eventID int, minute int) string {
	return fmt.Sprintf(`<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-Security-Auditing"/>
    <EventID>%d</EventID>
    <Level>2</Level>
    <TimeCreated SystemTime="2024-01-15T10:%02d:00.000Z"/>
    <Computer>ignored-by-collector</Computer>
  </System>
  <EventData><Data Name="TargetUserName">alice</Data></EventData>
</Event>`, eventID, minute)
}

func testConfig(hosts int) *config.Config {
	cfg := config.Default()
	cfg.Collection.LogTypes = []string{"Security"}
	for i := 0; i < hosts; i += 1 {
		cfg.Targets = append(cfg.Targets, config.Target{
			IP:             fmt.Sprintf("10.0.0.%d", i+1),
			Port:           5985,
			Transport:      config.TransportNTLM,
			TimeoutSeconds: 120,
		})
	}
	return cfg
}

func staticCreds(cfg *config.Config) credentials.Static {
	creds := credentials.Static{}
	for _, t := range cfg.Targets {
		creds[t.IP] = credentials.Credential{Username: "admin", Password: "pw"}
	}
	return creds
}

func TestRunCycleCollectsAndTags(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1)
	store := &memStore{}
	runner := &fakeRunner{
		stdout: []byte(eventXML(4625, 1) + "\n" + eventlog.Separator + "\n" + eventXML(4624, 2)),
	}

	c := New(multislogger.NewNopLogger(), cfg, store, staticCreds(cfg),
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return runner, nil
		}),
	)

	stats, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Parsed)
	assert.Equal(t, 2, stats.Inserted)
	assert.Zero(t, stats.Failed())

	require.Len(t, store.entries, 2)
	for _, e := range store.entries {
		assert.Equal(t, "10.0.0.1", e.Computer, "collector must tag entries with the target, not the XML computer")
		assert.Equal(t, "Security", e.LogName)
	}
	assert.Equal(t, 1, store.batches, "one cycle flushes one batch")
}

func TestRunCycleRespectsConcurrencyCap(t *testing.T) {
	t.Parallel()

	cfg := testConfig(5)
	cfg.Collection.ConcurrentHosts = 2
	store := &memStore{}

	var inflight, maxSeen atomic.Int32
	c := New(multislogger.NewNopLogger(), cfg, store, staticCreds(cfg),
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return &fakeRunner{
				stdout:   []byte(eventXML(4625, 1)),
				delay:    50 * time.Millisecond,
				inflight: &inflight,
				maxSeen:  &maxSeen,
			}, nil
		}),
	)

	stats, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Parsed, "all hosts collected despite the cap")
	assert.LessOrEqual(t, maxSeen.Load(), int32(2), "no more than concurrent_hosts sessions may run at once")
}

func TestRunCycleSurvivesHostFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(3)
	store := &memStore{}

	c := New(multislogger.NewNopLogger(), cfg, store, staticCreds(cfg),
		WithSessionFactory(func(target config.Target, _ credentials.Credential) (winremote.Runner, error) {
			if target.IP == "10.0.0.2" {
				return &fakeRunner{err: fmt.Errorf("%w: connection refused", winremote.ErrTransport)}, nil
			}
			return &fakeRunner{stdout: []byte(eventXML(4625, 1))}, nil
		}),
	)

	stats, err := c.RunCycle(context.Background())
	require.NoError(t, err, "a failing host must not fail the cycle")
	assert.Equal(t, 2, stats.Parsed)

	for _, h := range stats.Hosts {
		if h.Host == "10.0.0.2" {
			assert.Len(t, h.ChannelErrs, 1)
		} else {
			assert.Empty(t, h.ChannelErrs)
			assert.NoError(t, h.Err)
		}
	}
}

func TestRunCycleSurvivesChannelFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1)
	cfg.Collection.LogTypes = []string{"System", "Security"}
	store := &memStore{}
	runner := &fakeRunner{
		stdout:  []byte(eventXML(1074, 1)),
		perChan: map[string]error{"Security": errors.New("access denied")},
	}

	c := New(multislogger.NewNopLogger(), cfg, store, staticCreds(cfg),
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return runner, nil
		}),
	)

	stats, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Parsed, "surviving channel still collected")
	require.Contains(t, stats.Hosts[0].ChannelErrs, "Security")
}

func TestRunCycleMissingCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1)
	store := &memStore{}

	c := New(multislogger.NewNopLogger(), cfg, store, credentials.Static{},
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			t.Fatal("no session should be built without credentials")
			return nil, nil
		}),
	)

	stats, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed())
	require.ErrorIs(t, stats.Hosts[0].Err, credentials.ErrNoCredentials)
}

func TestRunCycleFlushesAfterCancellation(t *testing.T) {
	t.Parallel()

	cfg := testConfig(2)
	cfg.Collection.ConcurrentHosts = 1
	store := &memStore{}

	runner := newGatedRunner(2)
	c := New(multislogger.NewNopLogger(), cfg, store, staticCreds(cfg),
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return runner, nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		stats CycleStats
		err   error
	}
	res := make(chan outcome, 1)
	go func() {
		stats, err := c.RunCycle(ctx)
		res <- outcome{stats, err}
	}()

	// Cancel with the first host in flight, let the queued acquire
	// observe it, then release the gate.
	<-runner.started
	cancel()
	time.Sleep(100 * time.Millisecond)
	close(runner.release)

	var got outcome
	select {
	case got = <-res:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled cycle did not finish")
	}

	require.NoError(t, got.err, "cancellation must not fail the flush")
	assert.Equal(t, int32(1), runner.runs.Load(), "the second host must not dispatch after cancellation")
	require.Error(t, got.stats.Hosts[1].Err, "the skipped host records the cancellation")
}

func TestRunCycleStoreError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1)
	store := &memStore{err: errors.New("disk full")}

	c := New(multislogger.NewNopLogger(), cfg, store, staticCreds(cfg),
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return &fakeRunner{stdout: []byte(eventXML(4625, 1))}, nil
		}),
	)

	_, err := c.RunCycle(context.Background())
	require.Error(t, err, "a store failure is the one error a cycle reports")
}

func TestBuildEventQuery(t *testing.T) {
	t.Parallel()

	since := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	script := buildEventQuery("Security", since, 10000)

	assert.Contains(t, script, "[DateTime]::Parse('2024-01-15T09:30:00.000Z')")
	assert.Contains(t, script, "LogName='Security'")
	assert.Contains(t, script, "-MaxEvents 10000")
	assert.Contains(t, script, "-ErrorAction SilentlyContinue")
	assert.Contains(t, script, eventlog.Separator)
	assert.Contains(t, script, "$_.ToXml()")
}
