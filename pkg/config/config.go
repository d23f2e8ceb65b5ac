// Package config loads the sentinel configuration file into a typed
// struct. Unknown keys are warnings, not errors; invalid values are
// fatal at startup.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport selects the WinRM authentication mechanism for a target.
type Transport string

const (
	TransportNTLM     Transport = "ntlm"
	TransportKerberos Transport = "kerberos"
	TransportBasic    Transport = "basic"
	TransportCredSSP  Transport = "credssp"
)

const (
	DefaultPort                    = 5985
	DefaultOperationTimeoutSeconds = 120
	DefaultCheckIntervalSeconds    = 60
	DefaultConcurrentHosts         = 10
	DefaultHoursBack               = 1
	DefaultMaxEvents               = 10000
	DefaultRetentionDays           = 90
	DefaultDatabasePath            = "sentinel.duckdb"
)

type Config struct {
	Database   Database   `yaml:"database"`
	Collection Collection `yaml:"collection"`
	Targets    []Target   `yaml:"targets"`
	Alerts     Alerts     `yaml:"alerts"`
	Reporting  Reporting  `yaml:"reporting"`
}

type Database struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type Collection struct {
	LogTypes        []string `yaml:"log_types"`
	HoursBack       int      `yaml:"hours_back"`
	MaxEvents       int      `yaml:"max_events"`
	ConcurrentHosts int      `yaml:"concurrent_hosts"`
}

// Target describes one remote Windows host to pull events from.
type Target struct {
	IP             string     `yaml:"ip"`
	Port           int        `yaml:"port"`
	Transport      Transport  `yaml:"transport"`
	TimeoutSeconds int        `yaml:"timeout"`
	HTTPS          bool       `yaml:"https"`
	TLSVerify      bool       `yaml:"tls_verify"`
	KerberosRealm  string     `yaml:"kerberos_realm"`
	Krb5Conf       string     `yaml:"krb5_conf"`
	Credentials    *Credstash `yaml:"credentials"`
}

// Credstash is a username/password pair embedded directly in the config
// file. Supported for lab setups, warned against everywhere else.
type Credstash struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (t Target) OperationTimeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// ReadTimeout is the transport-level read timeout. It must strictly
// exceed the operation timeout or the WinRM server can win the race and
// the client will drop a still-running operation.
func (t Target) ReadTimeout() time.Duration {
	return t.OperationTimeout() + 30*time.Second
}

type Alerts struct {
	Enabled       bool   `yaml:"enabled"`
	CheckInterval int    `yaml:"check_interval"`
	Rules         []Rule `yaml:"rules"`
}

func (a Alerts) CheckIntervalDuration() time.Duration {
	return time.Duration(a.CheckInterval) * time.Second
}

// Rule is one alert rule: filters, a count threshold, and the actions
// to dispatch when the threshold is met.
type Rule struct {
	Name      string   `yaml:"name"`
	EventIDs  []int    `yaml:"event_ids"`
	Severity  string   `yaml:"severity"`
	Threshold int      `yaml:"threshold"`
	Actions   []Action `yaml:"actions"`
}

// Action is a tagged union over webhook, email, and remediation
// dispatch targets. Type decides which of the remaining fields apply.
type Action struct {
	Type   string `yaml:"type"`
	URL    string `yaml:"url"`
	Flavor string `yaml:"type_hint"`
	To     string `yaml:"to"`
	Script string `yaml:"script"`
}

const (
	ActionWebhook     = "webhook"
	ActionEmail       = "email"
	ActionRemediation = "remediation"
)

type Reporting struct {
	Enabled   bool   `yaml:"enabled"`
	Schedule  string `yaml:"schedule"`
	Format    string `yaml:"format"`
	OutputDir string `yaml:"output_dir"`
}

// Load reads the config file at path. A missing file yields defaults
// with a warning, matching headless operation on a fresh install;
// a file that exists but cannot be parsed is an error.
func Load(slogger *slog.Logger, path string) (*Config, error) {
	slogger = slogger.With("component", "config")

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slogger.Log(context.TODO(), slog.LevelWarn,
			"config file not found, using defaults",
			"path", path,
		)
		cfg := Default()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	return Parse(slogger, raw)
}

// Parse decodes raw YAML. It decodes strictly first so that unknown
// keys can be reported, then falls back to a lenient decode so they
// stay warnings rather than errors.
func Parse(slogger *slog.Logger, raw []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		slogger.Log(context.TODO(), slog.LevelWarn,
			"config contains unknown or malformed keys, retrying leniently",
			"err", err,
		)

		cfg = Config{}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default is the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath
	}
	if cfg.Database.RetentionDays <= 0 {
		cfg.Database.RetentionDays = DefaultRetentionDays
	}
	if len(cfg.Collection.LogTypes) == 0 {
		cfg.Collection.LogTypes = []string{"System", "Security", "Application"}
	}
	if cfg.Collection.HoursBack <= 0 {
		cfg.Collection.HoursBack = DefaultHoursBack
	}
	if cfg.Collection.MaxEvents <= 0 {
		cfg.Collection.MaxEvents = DefaultMaxEvents
	}
	if cfg.Collection.ConcurrentHosts <= 0 {
		cfg.Collection.ConcurrentHosts = DefaultConcurrentHosts
	}
	if cfg.Alerts.CheckInterval <= 0 {
		cfg.Alerts.CheckInterval = DefaultCheckIntervalSeconds
	}
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if t.Port == 0 {
			t.Port = DefaultPort
		}
		if t.Transport == "" {
			t.Transport = TransportNTLM
		}
		if t.TimeoutSeconds <= 0 {
			t.TimeoutSeconds = DefaultOperationTimeoutSeconds
		}
	}
	for i := range cfg.Alerts.Rules {
		if cfg.Alerts.Rules[i].Threshold <= 0 {
			cfg.Alerts.Rules[i].Threshold = 1
		}
	}
}

func validate(cfg *Config) error {
	for _, t := range cfg.Targets {
		if t.IP == "" {
			return errors.New("target missing ip")
		}
		switch t.Transport {
		case TransportNTLM, TransportKerberos, TransportBasic, TransportCredSSP:
		default:
			return fmt.Errorf("target %s: unsupported transport %q", t.IP, t.Transport)
		}
	}

	for _, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return errors.New("alert rule missing name")
		}
		for _, a := range r.Actions {
			switch a.Type {
			case ActionWebhook:
				if a.URL == "" {
					return fmt.Errorf("rule %q: webhook action missing url", r.Name)
				}
			case ActionEmail:
			case ActionRemediation:
				if a.Script == "" {
					return fmt.Errorf("rule %q: remediation action missing script", r.Name)
				}
			default:
				return fmt.Errorf("rule %q: unknown action type %q", r.Name, a.Type)
			}
		}
	}

	return nil
}
