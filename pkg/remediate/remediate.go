// Package remediate runs response scripts on the hosts that tripped an
// alert rule. It reuses the collection transport and credential chain,
// so a host that can be collected from can also be remediated.
package remediate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/credentials"
	"github.com/sentinelsh/sentinel/pkg/winremote"
)

// SessionFactory builds a Runner for one target, mirroring the
// collector's hook for tests.
type SessionFactory func(target config.Target, cred credentials.Credential) (winremote.Runner, error)

// Remediator executes PowerShell scripts on configured targets.
type Remediator struct {
	slogger  *slog.Logger
	targets  map[string]config.Target
	creds    credentials.Provider
	sessions SessionFactory
}

type Option func(*Remediator)

// WithSessionFactory substitutes the WinRM session constructor.
func WithSessionFactory(f SessionFactory) Option {
	return func(r *Remediator) {
		r.sessions = f
	}
}

func New(slogger *slog.Logger, cfg *config.Config, creds credentials.Provider, opts ...Option) *Remediator {
	targets := make(map[string]config.Target, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets[t.IP] = t
	}

	r := &Remediator{
		slogger: slogger.With("component", "remediate"),
		targets: targets,
		creds:   creds,
		sessions: func(target config.Target, cred credentials.Credential) (winremote.Runner, error) {
			return winremote.NewSession(slogger, target, cred)
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run executes script on the host with the given IP. The host must be a
// configured target; alerts can only name computers the collector put
// in the store, but the check guards against renamed or removed hosts.
func (r *Remediator) Run(ctx context.Context, host, script string) error {
	target, ok := r.targets[host]
	if !ok {
		return fmt.Errorf("host %s is not a configured target", host)
	}

	cred, err := r.creds.Credentials(host)
	if err != nil {
		return fmt.Errorf("resolving credentials for %s: %w", host, err)
	}

	session, err := r.sessions(target, cred)
	if err != nil {
		return fmt.Errorf("building session for %s: %w", host, err)
	}

	r.slogger.Log(ctx, slog.LevelWarn,
		"executing remediation",
		"host", host,
	)

	res, err := session.Run(ctx, script)
	if err != nil {
		return fmt.Errorf("running remediation on %s: %w", host, err)
	}
	if res.Status != 0 {
		return fmt.Errorf("remediation on %s exited %d: %s", host, res.Status, res.Stderr)
	}

	r.slogger.Log(ctx, slog.LevelInfo,
		"remediation complete",
		"host", host,
	)
	return nil
}
