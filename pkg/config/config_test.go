package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsh/sentinel/pkg/log/multislogger"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(multislogger.NewNopLogger(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, DefaultRetentionDays, cfg.Database.RetentionDays)
	assert.Equal(t, []string{"System", "Security", "Application"}, cfg.Collection.LogTypes)
	assert.Equal(t, DefaultConcurrentHosts, cfg.Collection.ConcurrentHosts)
	assert.Equal(t, DefaultCheckIntervalSeconds, cfg.Alerts.CheckInterval)
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	raw := `database:
  path: /var/lib/sentinel/logs.duckdb
  retention_days: 30
collection:
  log_types: [System]
  hours_back: 4
  max_events: 500
  concurrent_hosts: 3
targets:
  - ip: 10.0.0.1
  - ip: 10.0.0.2
    port: 5986
    transport: kerberos
    timeout: 45
    https: true
    kerberos_realm: CORP.EXAMPLE.COM
alerts:
  enabled: true
  check_interval: 30
  rules:
    - name: Failed Logins
      event_ids: [4625]
      threshold: 5
      actions:
        - type: webhook
          url: https://hooks.example.com/x
          type_hint: slack
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(multislogger.NewNopLogger(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/sentinel/logs.duckdb", cfg.Database.Path)
	assert.Equal(t, 30, cfg.Database.RetentionDays)
	assert.Equal(t, 4, cfg.Collection.HoursBack)

	require.Len(t, cfg.Targets, 2)
	first, second := cfg.Targets[0], cfg.Targets[1]
	assert.Equal(t, DefaultPort, first.Port, "port defaults to 5985")
	assert.Equal(t, TransportNTLM, first.Transport, "transport defaults to ntlm")
	assert.Equal(t, 120*time.Second, first.OperationTimeout())
	assert.Equal(t, 150*time.Second, first.ReadTimeout(), "read timeout exceeds operation timeout by 30s")
	assert.Equal(t, 5986, second.Port)
	assert.Equal(t, TransportKerberos, second.Transport)
	assert.Equal(t, 45*time.Second, second.OperationTimeout())

	require.Len(t, cfg.Alerts.Rules, 1)
	rule := cfg.Alerts.Rules[0]
	assert.Equal(t, 5, rule.Threshold)
	require.Len(t, rule.Actions, 1)
	assert.Equal(t, ActionWebhook, rule.Actions[0].Type)
	assert.Equal(t, "slack", rule.Actions[0].Flavor)
}

func TestParseUnknownKeysAreWarnings(t *testing.T) {
	t.Parallel()

	raw := `database:
  path: logs.duckdb
  compression: zstd
chaos_mode: true
`
	cfg, err := Parse(multislogger.NewNopLogger(), []byte(raw))
	require.NoError(t, err, "unknown keys must not be fatal")
	assert.Equal(t, "logs.duckdb", cfg.Database.Path)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		raw  string
	}{
		{"bad transport", "targets:\n  - ip: 10.0.0.1\n    transport: ssh\n"},
		{"target missing ip", "targets:\n  - port: 5985\n"},
		{"nameless rule", "alerts:\n  rules:\n    - threshold: 2\n"},
		{"webhook without url", "alerts:\n  rules:\n    - name: x\n      actions:\n        - type: webhook\n"},
		{"unknown action type", "alerts:\n  rules:\n    - name: x\n      actions:\n        - type: carrier_pigeon\n"},
		{"not yaml at all", ": :\n\t-"},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(multislogger.NewNopLogger(), []byte(tt.raw))
			require.Error(t, err)
		})
	}
}

func TestThresholdDefaultsToOne(t *testing.T) {
	t.Parallel()

	raw := "alerts:\n  rules:\n    - name: Critical Errors\n      severity: Critical\n"
	cfg, err := Parse(multislogger.NewNopLogger(), []byte(raw))
	require.NoError(t, err)
	require.Len(t, cfg.Alerts.Rules, 1)
	assert.Equal(t, 1, cfg.Alerts.Rules[0].Threshold)
}

func TestWriteSample(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteSample(path))

	cfg, err := Load(multislogger.NewNopLogger(), path)
	require.NoError(t, err, "sample config must parse cleanly")
	assert.NotEmpty(t, cfg.Targets)
	assert.NotEmpty(t, cfg.Alerts.Rules)

	require.Error(t, WriteSample(path), "sample generation must not overwrite an existing file")
}
