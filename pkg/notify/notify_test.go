package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsh/sentinel/pkg/log/multislogger"
)

func captureServer(t *testing.T, status int) (*httptest.Server, *map[string]string) {
	t.Helper()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, &got
}

func TestWebhookDiscordPayload(t *testing.T) {
	t.Parallel()

	srv, got := captureServer(t, http.StatusNoContent)

	n := NewWebhookNotifier(multislogger.NewNopLogger())
	require.NoError(t, n.Send(context.Background(), srv.URL, "**Alert: Failed Login Attempts**", "discord"))

	assert.Equal(t, map[string]string{
		"content":  "**Alert: Failed Login Attempts**",
		"username": "Headless Sentinel",
	}, *got)
}

func TestWebhookSlackPayload(t *testing.T) {
	t.Parallel()

	srv, got := captureServer(t, http.StatusOK)

	n := NewWebhookNotifier(multislogger.NewNopLogger())
	require.NoError(t, n.Send(context.Background(), srv.URL, "hello", "slack"))

	assert.Equal(t, map[string]string{
		"text":       "hello",
		"username":   "Headless Sentinel",
		"icon_emoji": ":shield:",
	}, *got)
}

func TestWebhookGenericPayload(t *testing.T) {
	t.Parallel()

	srv, got := captureServer(t, http.StatusOK)

	n := NewWebhookNotifier(multislogger.NewNopLogger())
	require.NoError(t, n.Send(context.Background(), srv.URL, "hello", "pagerduty"))

	assert.Equal(t, map[string]string{
		"message": "hello",
		"source":  "Headless Sentinel",
	}, *got, "unknown flavors fall back to the generic envelope")
}

func TestWebhookNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv, _ := captureServer(t, http.StatusInternalServerError)

	n := NewWebhookNotifier(multislogger.NewNopLogger())
	err := n.Send(context.Background(), srv.URL, "hello", "slack")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookUnreachable(t *testing.T) {
	t.Parallel()

	n := NewWebhookNotifier(multislogger.NewNopLogger())
	err := n.Send(context.Background(), "http://127.0.0.1:1/hook", "hello", "slack")
	require.Error(t, err)
}

func TestLogNotifierNeverFails(t *testing.T) {
	t.Parallel()

	n := NewLogNotifier(multislogger.NewNopLogger())
	require.NoError(t, n.Send(context.Background(), "ops@example.com", "short", ""))

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	require.NoError(t, n.Send(context.Background(), "ops@example.com", string(long), ""))
}
