package remediate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/credentials"
	"github.com/sentinelsh/sentinel/pkg/log/multislogger"
	"github.com/sentinelsh/sentinel/pkg/winremote"
)

type scriptedRunner struct {
	result winremote.Result
	err    error
	ran    []string
}

func (s *scriptedRunner) Run(_ context.Context, script string) (winremote.Result, error) {
	s.ran = append(s.ran, script)
	return s.result, s.err
}

func testSetup(runner *scriptedRunner) (*config.Config, credentials.Static) {
	cfg := config.Default()
	cfg.Targets = []config.Target{{IP: "10.0.0.1", Port: 5985, Transport: config.TransportNTLM, TimeoutSeconds: 120}}
	creds := credentials.Static{"10.0.0.1": {Username: "admin", Password: "pw"}}
	return cfg, creds
}

func TestRunExecutesScript(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{result: winremote.Result{Status: 0}}
	cfg, creds := testSetup(runner)

	r := New(multislogger.NewNopLogger(), cfg, creds,
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return runner, nil
		}),
	)

	require.NoError(t, r.Run(context.Background(), "10.0.0.1", "Disable-ADAccount -Identity $user"))
	require.Len(t, runner.ran, 1)
	assert.Equal(t, "Disable-ADAccount -Identity $user", runner.ran[0])
}

func TestRunUnknownHost(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	cfg, creds := testSetup(runner)

	r := New(multislogger.NewNopLogger(), cfg, creds,
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return runner, nil
		}),
	)

	err := r.Run(context.Background(), "10.9.9.9", "whoami")
	require.Error(t, err, "remediation must not run on hosts outside the target list")
	assert.Empty(t, runner.ran)
}

func TestRunMissingCredentials(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	cfg, _ := testSetup(runner)

	r := New(multislogger.NewNopLogger(), cfg, credentials.Static{},
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return runner, nil
		}),
	)

	err := r.Run(context.Background(), "10.0.0.1", "whoami")
	require.ErrorIs(t, err, credentials.ErrNoCredentials)
	assert.Empty(t, runner.ran)
}

func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{result: winremote.Result{Status: 1, Stderr: []byte("access denied")}}
	cfg, creds := testSetup(runner)

	r := New(multislogger.NewNopLogger(), cfg, creds,
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return runner, nil
		}),
	)

	err := r.Run(context.Background(), "10.0.0.1", "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestRunTransportFailure(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{err: errors.New("connection refused")}
	cfg, creds := testSetup(runner)

	r := New(multislogger.NewNopLogger(), cfg, creds,
		WithSessionFactory(func(config.Target, credentials.Credential) (winremote.Runner, error) {
			return runner, nil
		}),
	)

	require.Error(t, r.Run(context.Background(), "10.0.0.1", "whoami"))
}
