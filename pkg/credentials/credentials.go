// Package credentials resolves the username/password pair for a target
// host. Resolution walks a fixed chain: OS secret store, per-host
// environment variables, credentials embedded in the config file
// (discouraged), then default environment variables.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// ServiceName is the secret-store service the sentinel stores host
// credentials under.
const ServiceName = "HeadlessSentinel"

const (
	envPrefix          = "SENTINEL_"
	envDefaultUsername = "SENTINEL_DEFAULT_USERNAME"
	envDefaultPassword = "SENTINEL_DEFAULT_PASSWORD"
)

// ErrNoCredentials means every link of the chain came up empty for a
// host; the host is skipped for the cycle.
var ErrNoCredentials = errors.New("no credentials found for host")

type Credential struct {
	Username string
	Password string
}

// Provider is the read-only credential lookup used by the collector and
// the remediator. Implementations must be safe for concurrent use.
type Provider interface {
	Credentials(ip string) (Credential, error)
}

// secretStore abstracts the OS keyring so tests can substitute an
// in-memory one.
type secretStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
}

type systemKeyring struct{}

func (systemKeyring) Get(service, key string) (string, error) {
	return keyring.Get(service, key)
}

func (systemKeyring) Set(service, key, value string) error {
	return keyring.Set(service, key, value)
}

// ChainProvider implements Provider over the documented fallback chain.
type ChainProvider struct {
	slogger    *slog.Logger
	store      secretStore
	fromConfig map[string]Credential
}

type Option func(*ChainProvider)

// WithSecretStore substitutes the OS keyring, for tests.
func WithSecretStore(s secretStore) Option {
	return func(c *ChainProvider) {
		c.store = s
	}
}

// WithConfigCredentials seeds the config-file link of the chain with
// credentials keyed by target ip.
func WithConfigCredentials(m map[string]Credential) Option {
	return func(c *ChainProvider) {
		c.fromConfig = m
	}
}

func NewChainProvider(slogger *slog.Logger, opts ...Option) *ChainProvider {
	c := &ChainProvider{
		slogger:    slogger.With("component", "credentials"),
		store:      systemKeyring{},
		fromConfig: make(map[string]Credential),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *ChainProvider) Credentials(ip string) (Credential, error) {
	// 1. OS secret store.
	username, uerr := c.store.Get(ServiceName, ip+"_username")
	password, perr := c.store.Get(ServiceName, ip+"_password")
	if uerr == nil && perr == nil && username != "" && password != "" {
		return Credential{Username: username, Password: password}, nil
	}

	// 2. Per-host environment variables, dots replaced by underscores.
	hostKey := strings.ReplaceAll(ip, ".", "_")
	username = os.Getenv(envPrefix + hostKey + "_USERNAME")
	password = os.Getenv(envPrefix + hostKey + "_PASSWORD")
	if username != "" && password != "" {
		return Credential{Username: username, Password: password}, nil
	}

	// 3. Credentials embedded in the config file.
	if cred, ok := c.fromConfig[ip]; ok && cred.Username != "" {
		c.slogger.Log(context.TODO(), slog.LevelWarn,
			"using credentials from config file, consider the secret store or environment variables",
			"host", ip,
		)
		return cred, nil
	}

	// 4. Default environment variables.
	username = os.Getenv(envDefaultUsername)
	password = os.Getenv(envDefaultPassword)
	if username != "" && password != "" {
		c.slogger.Log(context.TODO(), slog.LevelWarn,
			"using default credentials",
			"host", ip,
		)
		return Credential{Username: username, Password: password}, nil
	}

	return Credential{}, fmt.Errorf("%w: %s", ErrNoCredentials, ip)
}

// Set stores a host's credentials in the OS secret store.
func (c *ChainProvider) Set(ip, username, password string) error {
	if err := c.store.Set(ServiceName, ip+"_username", username); err != nil {
		return fmt.Errorf("storing username for %s: %w", ip, err)
	}
	if err := c.store.Set(ServiceName, ip+"_password", password); err != nil {
		return fmt.Errorf("storing password for %s: %w", ip, err)
	}
	return nil
}

// Static is a fixed-map Provider for tests and embedded setups.
type Static map[string]Credential

func (s Static) Credentials(ip string) (Credential, error) {
	cred, ok := s[ip]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrNoCredentials, ip)
	}
	return cred, nil
}
