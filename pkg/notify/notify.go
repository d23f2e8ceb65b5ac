// Package notify delivers alert text to outbound channels. Webhooks
// are the real transport; email is a logged placeholder until an SMTP
// relay is configured.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	senderName     = "Headless Sentinel"
	webhookTimeout = 10 * time.Second
)

// Notifier delivers one alert message to a destination URL. Flavor
// selects the payload shape for the receiving service.
type Notifier interface {
	Send(ctx context.Context, url, message, flavor string) error
}

// WebhookNotifier posts JSON payloads shaped for discord, slack, or a
// generic receiver.
type WebhookNotifier struct {
	slogger *slog.Logger
	client  *http.Client
}

func NewWebhookNotifier(slogger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		slogger: slogger.With("component", "notify"),
		client:  &http.Client{Timeout: webhookTimeout},
	}
}

// Send posts the message to url. Anything other than a 200 or 204
// response is a delivery failure.
func (w *WebhookNotifier) Send(ctx context.Context, url, message, flavor string) error {
	body, err := json.Marshal(payloadFor(message, flavor))
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.slogger.Log(ctx, slog.LevelInfo,
		"webhook delivered",
		"flavor", flavor,
	)
	return nil
}

// payloadFor shapes the JSON body for the receiving service. Unknown
// flavors get a generic envelope.
func payloadFor(message, flavor string) map[string]string {
	switch strings.ToLower(flavor) {
	case "discord":
		return map[string]string{
			"content":  message,
			"username": senderName,
		}
	case "slack":
		return map[string]string{
			"text":       message,
			"username":   senderName,
			"icon_emoji": ":shield:",
		}
	default:
		return map[string]string{
			"message": message,
			"source":  senderName,
		}
	}
}

// LogNotifier records alerts instead of delivering them. It stands in
// for the email action until outbound mail is wired up.
type LogNotifier struct {
	slogger *slog.Logger
}

func NewLogNotifier(slogger *slog.Logger) *LogNotifier {
	return &LogNotifier{slogger: slogger.With("component", "notify")}
}

func (l *LogNotifier) Send(ctx context.Context, to, message, _ string) error {
	preview := message
	if len(preview) > 100 {
		preview = preview[:100]
	}
	l.slogger.Log(ctx, slog.LevelInfo,
		"email alert",
		"to", to,
		"message", preview,
	)
	return nil
}
