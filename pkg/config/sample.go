package config

import (
	"fmt"
	"os"
)

// sampleConfig is what generate-config writes. It mirrors the defaults
// and shows every recognized key.
const sampleConfig = `database:
  path: sentinel.duckdb
  retention_days: 90

collection:
  log_types:
    - System
    - Security
    - Application
  hours_back: 1
  max_events: 10000
  concurrent_hosts: 10

targets:
  - ip: 192.168.1.100
    port: 5985
    transport: ntlm
    timeout: 120
    # Do not store credentials here in production. Use the OS secret
    # store (service HeadlessSentinel) or SENTINEL_* environment
    # variables instead; see the README.

alerts:
  enabled: true
  check_interval: 60
  rules:
    - name: Failed Login Attempts
      event_ids: [4625]
      threshold: 5
      actions:
        - type: webhook
          url: https://discord.com/api/webhooks/YOUR_WEBHOOK
          type_hint: discord
    - name: Privilege Escalation
      event_ids: [4672, 4673]
      threshold: 1
      actions:
        - type: webhook
          url: https://hooks.slack.com/services/YOUR_WEBHOOK
          type_hint: slack
    - name: Account Lockout
      event_ids: [4740]
      threshold: 1
      actions:
        - type: remediation
          script: net user $USERNAME /unlock
    - name: Critical System Errors
      severity: Critical
      threshold: 1
      actions:
        - type: webhook
          url: YOUR_NOTIFICATION_URL

reporting:
  enabled: true
  schedule: "0 8 * * *"
  format: markdown
  output_dir: ./reports
`

// WriteSample writes the sample configuration file to path, refusing to
// clobber an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing file %s", path)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("writing sample config to %s: %w", path, err)
	}

	return nil
}
