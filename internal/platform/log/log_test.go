package applog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtxCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Service: "recallweave", Output: &buf})

	ctx := WithFields(context.Background(), "request_id", "req-1")
	ctx = WithFields(ctx, "tenant_id", "acme")
	Ctx(ctx).Info("[Test] hello", "tier", "HYBRID")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "[Test] hello", entry["msg"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "acme", entry["tenant_id"])
	assert.Equal(t, "HYBRID", entry["tier"])
	assert.Equal(t, "recallweave", entry["service"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})

	Info("[Test] dropped")
	Warn("[Test] kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestFieldsEmptyContext(t *testing.T) {
	assert.Nil(t, Fields(context.Background()))
	ctx := WithFields(context.Background())
	assert.Nil(t, Fields(ctx))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{" WARNING ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, slogLevel(parseLevel(tt.in)))
		})
	}
}
