// Package winremote runs PowerShell on remote Windows hosts over
// WS-Management (WinRM). Transport and timeout failures are retried on
// a fixed schedule; authentication and script failures are not.
package winremote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/masterzen/winrm"
	"github.com/mixer/clock"

	"github.com/sentinelsh/sentinel/pkg/backoff"
	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/credentials"
)

// Error kinds the collector distinguishes. ErrTransport and ErrTimeout
// are retriable; ErrAuth is not.
var (
	ErrTransport = errors.New("winrm transport failure")
	ErrTimeout   = errors.New("winrm operation timed out")
	ErrAuth      = errors.New("winrm authentication failed")
)

const (
	retryAttempts = 3
	retryDelay    = 5 * time.Second

	envelopeSize = 153600
	locale       = "en-US"
)

// Result is the outcome of one remote script execution.
type Result struct {
	Stdout []byte
	Stderr []byte
	Status int
}

// Runner executes a PowerShell script on one remote host.
// Implementations must close every shell and command handle they open,
// on all exit paths.
type Runner interface {
	Run(ctx context.Context, script string) (Result, error)
}

// Session is a Runner bound to one target host.
type Session struct {
	slogger *slog.Logger
	target  config.Target
	client  *winrm.Client
	retrier *backoff.Backoff
}

type Option func(*Session)

// WithClock swaps the retry clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.retrier = backoff.New(
			backoff.WithAttempts(retryAttempts),
			backoff.WithDelay(retryDelay),
			backoff.WithRetriable(Retriable),
			backoff.WithClock(c),
		)
	}
}

// NewSession builds a WinRM session for the target. The endpoint read
// timeout is derived from the operation timeout and always strictly
// exceeds it.
func NewSession(slogger *slog.Logger, target config.Target, cred credentials.Credential, opts ...Option) (*Session, error) {
	endpoint := winrm.NewEndpoint(
		target.IP,
		target.Port,
		target.HTTPS,
		!target.TLSVerify, // insecure skip-verify unless verification is requested
		nil, nil, nil,
		target.ReadTimeout(),
	)

	params := winrm.NewParameters(isoDuration(target.OperationTimeout()), locale, envelopeSize)
	if decorator := transportDecorator(slogger, target, cred); decorator != nil {
		params.TransportDecorator = decorator
	}

	client, err := winrm.NewClientWithParameters(endpoint, cred.Username, cred.Password, params)
	if err != nil {
		return nil, fmt.Errorf("building winrm client for %s: %w", target.IP, err)
	}

	s := &Session{
		slogger: slogger.With("component", "winremote", "host", target.IP),
		target:  target,
		client:  client,
		retrier: backoff.New(
			backoff.WithAttempts(retryAttempts),
			backoff.WithDelay(retryDelay),
			backoff.WithRetriable(Retriable),
		),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// transportDecorator maps the configured transport onto the client
// library's authenticators. Basic auth is the library default, so it
// needs no decorator.
func transportDecorator(slogger *slog.Logger, target config.Target, cred credentials.Credential) func() winrm.Transporter {
	proto := "http"
	if target.HTTPS {
		proto = "https"
	}

	switch target.Transport {
	case config.TransportBasic:
		return nil
	case config.TransportKerberos:
		return func() winrm.Transporter {
			return &winrm.ClientKerberos{
				Username: cred.Username,
				Password: cred.Password,
				Hostname: target.IP,
				Port:     target.Port,
				Proto:    proto,
				Realm:    target.KerberosRealm,
				KrbConf:  target.Krb5Conf,
			}
		}
	case config.TransportCredSSP:
		// The client library does not speak CredSSP; NTLM is the
		// closest negotiation it can offer.
		slogger.Log(context.TODO(), slog.LevelWarn,
			"credssp transport is not supported, negotiating ntlm instead",
			"host", target.IP,
		)
		fallthrough
	default: // ntlm
		return func() winrm.Transporter {
			return &winrm.ClientNTLM{}
		}
	}
}

// Connect probes the session with a trivial command round-trip.
func (s *Session) Connect(ctx context.Context) error {
	var discard bytes.Buffer
	_, err := s.client.RunWithContext(ctx, "echo ok", &discard, &discard)
	if err != nil {
		return classify(err)
	}
	return nil
}

// Run executes script through powershell on the remote host, retrying
// transport and timeout failures. A script that runs but exits non-zero
// is not an error here; the status and stderr are returned for the
// caller to judge.
func (s *Session) Run(ctx context.Context, script string) (Result, error) {
	var result Result

	err := s.retrier.Run(ctx, func() error {
		var runErr error
		result, runErr = s.runOnce(ctx, script)
		return runErr
	})
	if err != nil {
		return Result{}, err
	}

	return result, nil
}

func (s *Session) runOnce(ctx context.Context, script string) (Result, error) {
	shell, err := s.client.CreateShell()
	if err != nil {
		return Result{}, classify(err)
	}
	defer func() {
		if err := shell.Close(); err != nil {
			s.slogger.Log(ctx, slog.LevelDebug,
				"closing remote shell",
				"err", err,
			)
		}
	}()

	cmd, err := shell.ExecuteWithContext(ctx, winrm.Powershell(script))
	if err != nil {
		return Result{}, classify(err)
	}
	defer cmd.Close()

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdout, cmd.Stdout)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderr, cmd.Stderr)
	}()

	cmd.Wait()
	wg.Wait()

	return Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
		Status: cmd.ExitCode(),
	}, nil
}

// Retriable reports whether err is worth another attempt.
func Retriable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout)
}

// classify folds raw client errors into the package's error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication"):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
}

// isoDuration renders d as the ISO 8601 duration string WS-Management
// wants for its operation timeout, e.g. "PT120S".
func isoDuration(d time.Duration) string {
	return fmt.Sprintf("PT%dS", int(d.Seconds()))
}
