// Package watcher evaluates alert rules against newly stored events and
// dispatches the configured actions. Each tick covers the half-open
// window since the previous successful tick, so an event is evaluated
// exactly once.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mixer/clock"

	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/log/multislogger"
	"github.com/sentinelsh/sentinel/pkg/notify"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

const (
	startupLookback = time.Hour
	errorRetryDelay = 60 * time.Second
)

// Store is the slice of the log store the watcher needs.
type Store interface {
	CountMatching(ctx context.Context, since, until time.Time, eventIDs []int, levels []string, threshold int) (*logstore.Result, error)
}

// Remediator runs a response script on one host.
type Remediator interface {
	Run(ctx context.Context, host, script string) error
}

// Hit is one (computer, event id) pair that met a rule's threshold.
type Hit struct {
	Computer string
	EventID  string
	Count    string
}

// Watcher is the alerting daemon. It plugs into a rungroup.
type Watcher struct {
	slogger    *slog.Logger
	alerts     config.Alerts
	store      Store
	webhooks   notify.Notifier
	email      notify.Notifier
	remediator Remediator

	clock       clock.Clock
	lastCheck   time.Time
	interrupt   chan struct{}
	interrupted atomic.Bool
}

type Option func(*Watcher)

// WithClock swaps the scheduling clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

// WithRemediator wires the remediation action. Without one, remediation
// actions are logged and skipped.
func WithRemediator(r Remediator) Option {
	return func(w *Watcher) {
		w.remediator = r
	}
}

// WithWebhookNotifier substitutes the webhook transport, for tests.
func WithWebhookNotifier(n notify.Notifier) Option {
	return func(w *Watcher) {
		w.webhooks = n
	}
}

func New(slogger *slog.Logger, alerts config.Alerts, store Store, opts ...Option) *Watcher {
	w := &Watcher{
		slogger:   slogger.With("component", "watcher"),
		alerts:    alerts,
		store:     store,
		webhooks:  notify.NewWebhookNotifier(slogger),
		email:     notify.NewLogNotifier(slogger),
		clock:     clock.DefaultClock{},
		interrupt: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Execute runs evaluation ticks until Interrupt is called. The first
// tick reaches back an hour so a restart does not drop alerts for
// events collected while the watcher was down.
func (w *Watcher) Execute() error {
	ctx := context.Background()
	w.lastCheck = w.clock.Now().UTC().Add(-startupLookback)

	w.slogger.Log(ctx, slog.LevelInfo,
		"watcher started",
		"rules", len(w.alerts.Rules),
		"check_interval", w.alerts.CheckIntervalDuration().String(),
	)

	for {
		delay := w.alerts.CheckIntervalDuration()
		if err := w.runTick(ctx, w.clock.Now().UTC()); err != nil {
			w.slogger.Log(ctx, slog.LevelError,
				"evaluation tick failed",
				"err", err,
			)
			delay = errorRetryDelay
		}

		timer := w.clock.NewTimer(delay)
		select {
		case <-timer.Chan():
		case <-w.interrupt:
			timer.Stop()
			return nil
		}
	}
}

// Interrupt stops the loop. Safe to call more than once.
func (w *Watcher) Interrupt(_ error) {
	if w.interrupted.Swap(true) {
		return
	}
	close(w.interrupt)
}

// runTick evaluates every rule over (lastCheck, now]. The watermark
// advances only when every rule's query succeeded, so a store outage
// delays evaluation instead of silently dropping the window. The tick
// stops at the first query failure: rules that already fired would
// fire again when the held window is re-evaluated, so evaluating more
// rules after a failure only widens that exposure. Action failures and
// rule panics do not hold the watermark back.
func (w *Watcher) runTick(ctx context.Context, now time.Time) error {
	for _, rule := range w.alerts.Rules {
		if err := w.evaluateRule(ctx, rule, now); err != nil {
			return err
		}
	}

	w.lastCheck = now
	return nil
}

func (w *Watcher) evaluateRule(ctx context.Context, rule config.Rule, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.slogger.Log(ctx, slog.LevelError,
				"panic evaluating rule",
				"rule", rule.Name,
				"panic", r,
			)
			// A panicking rule must not poison the tick.
			err = nil
		}
	}()

	var levels []string
	if rule.Severity != "" {
		levels = []string{rule.Severity}
	}

	res, err := w.store.CountMatching(ctx, w.lastCheck, now, rule.EventIDs, levels, rule.Threshold)
	if err != nil {
		return fmt.Errorf("evaluating rule %q: %w", rule.Name, err)
	}
	if len(res.Rows) == 0 {
		return nil
	}

	hits := make([]Hit, 0, len(res.Rows))
	for _, row := range res.Rows {
		hits = append(hits, Hit{Computer: row[0], EventID: row[1], Count: row[2]})
	}

	w.triggerAlert(ctx, rule, hits)
	return nil
}

// triggerAlert formats the alert text and dispatches every configured
// action. A failing action is logged and the rest still run.
func (w *Watcher) triggerAlert(ctx context.Context, rule config.Rule, hits []Hit) {
	ctx = context.WithValue(ctx, multislogger.AlertIDKey, uuid.NewString())
	message := FormatAlert(rule.Name, hits)

	w.slogger.Log(ctx, slog.LevelWarn,
		"alert triggered",
		"rule", rule.Name,
		"hits", len(hits),
	)

	for _, action := range rule.Actions {
		switch action.Type {
		case config.ActionWebhook:
			flavor := action.Flavor
			if flavor == "" {
				flavor = "slack"
			}
			if err := w.webhooks.Send(ctx, action.URL, message, flavor); err != nil {
				w.slogger.Log(ctx, slog.LevelError,
					"webhook action failed",
					"rule", rule.Name,
					"err", err,
				)
			}
		case config.ActionEmail:
			if err := w.email.Send(ctx, action.To, message, ""); err != nil {
				w.slogger.Log(ctx, slog.LevelError,
					"email action failed",
					"rule", rule.Name,
					"err", err,
				)
			}
		case config.ActionRemediation:
			w.runRemediation(ctx, rule, action, hits)
		}
	}
}

// runRemediation executes the rule's script once per distinct computer
// in the hits.
func (w *Watcher) runRemediation(ctx context.Context, rule config.Rule, action config.Action, hits []Hit) {
	if w.remediator == nil {
		w.slogger.Log(ctx, slog.LevelWarn,
			"remediation action configured but no remediator wired",
			"rule", rule.Name,
		)
		return
	}

	seen := make(map[string]bool)
	for _, hit := range hits {
		if seen[hit.Computer] {
			continue
		}
		seen[hit.Computer] = true

		if err := w.remediator.Run(ctx, hit.Computer, action.Script); err != nil {
			w.slogger.Log(ctx, slog.LevelError,
				"remediation action failed",
				"rule", rule.Name,
				"host", hit.Computer,
				"err", err,
			)
		}
	}
}

// FormatAlert renders the alert text shared by every action channel.
func FormatAlert(name string, hits []Hit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Alert: %s**\n\n", name)
	sb.WriteString("Triggered conditions:\n")
	for _, hit := range hits {
		fmt.Fprintf(&sb, "- %s: Event %s (%s times)\n", hit.Computer, hit.EventID, hit.Count)
	}
	return sb.String()
}
