package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "bulwark-test",
		Version:     "test",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&Config{Level: "shouting", Format: "json", Output: "stdout"})
	assert.Error(t, err)
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	_, err := NewLogger(&Config{Level: "info", Format: "yaml", Output: "stdout"})
	assert.Error(t, err)
}

func TestLogger_JSONFieldsIncluded(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.Info("cache cleared", "keys", 4)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cache cleared", entry["message"])
	assert.Equal(t, "bulwark-test", entry["service"])
	assert.Equal(t, float64(4), entry["keys"])
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "abc-123")
	logger.WithContext(ctx).Info("request handled")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc-123", entry["correlation_id"])
}

func TestLogger_LogInvocation(t *testing.T) {
	logger, buf := newBufferedLogger(t, "debug")
	ctx := context.Background()

	logger.LogInvocation(ctx, "fetch-user", 2, 150*time.Millisecond, nil)
	logger.LogInvocation(ctx, "fetch-user", 4, time.Second, errors.New("exhausted"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var success, failure map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &success))
	require.NoError(t, json.Unmarshal(lines[1], &failure))

	assert.Equal(t, "debug", success["level"])
	assert.Equal(t, float64(2), success["attempts"])

	assert.Equal(t, "warning", failure["level"])
	assert.Equal(t, "exhausted", failure["error"])
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	id := NewCorrelationID()
	assert.NotEmpty(t, id)

	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
}
