package multislogger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopLoggerDiscards(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		NewNopLogger().Log(context.TODO(), slog.LevelInfo, "dropped on the floor")
	})
}

func TestFanoutReachesAllHandlers(t *testing.T) {
	t.Parallel()

	var first, second bytes.Buffer
	ms := New(slog.NewTextHandler(&first, nil))
	ms.AddHandler(slog.NewJSONHandler(&second, nil))

	ms.Log(context.TODO(), slog.LevelInfo, "collection complete", "host_count", 3)

	assert.Contains(t, first.String(), "collection complete")
	assert.Contains(t, second.String(), "collection complete")
	assert.Contains(t, second.String(), `"host_count":3`)
}

func TestContextValuesBecomeAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ms := New(slog.NewJSONHandler(&buf, nil))

	ctx := context.WithValue(context.Background(), CycleIDKey, "cycle-17")
	ms.Log(ctx, slog.LevelInfo, "flushing batch")

	assert.Contains(t, buf.String(), `"cycle_id":"cycle-17"`)
}
