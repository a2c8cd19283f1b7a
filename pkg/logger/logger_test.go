package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "debug", Format: "json", Output: &buf, Component: "sync"})

	log.WithField("match_id", "m-1").Debug("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sync", line["component"])
	assert.Equal(t, "m-1", line["match_id"])
	assert.Equal(t, "hello", line["msg"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "loud", Output: &buf})

	log.Debug("hidden")
	assert.Zero(t, buf.Len())

	log.Info("shown")
	assert.NotZero(t, buf.Len())
}

func TestWithContext_AddsTraceAndUser(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Output: &buf})

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "admin@example.com")
	log.WithContext(ctx).Info("ctx")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "admin@example.com", line["user_id"])
}

func TestLogRequest_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Output: &buf})

	log.LogRequest(context.Background(), http.MethodGet, "/api/matches", http.StatusBadGateway, 12*time.Millisecond)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.EqualValues(t, 12, line["duration_ms"])
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetUserID(context.Background()))
	assert.Empty(t, GetRole(ctx))
}
