package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(redact bool) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return FromZap(zap.New(core), redact), logs
}

func TestLogger_RedactsContactFields(t *testing.T) {
	log, logs := observed(true)

	log.Info("contact ingested", "email", "ada@example.com", "run_id", "r-1", "first_name", "Ada")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, redacted, fields["email"])
	assert.Equal(t, redacted, fields["first_name"])
	assert.Equal(t, "r-1", fields["run_id"])
}

func TestLogger_RedactsNestedMaps(t *testing.T) {
	log, logs := observed(true)

	log.Warn("bad payload", "content", map[string]any{"email": "x@y.z", "company_name": "Acme"})

	content, ok := logs.All()[0].ContextMap()["content"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redacted, content["email"])
	assert.Equal(t, "Acme", content["company_name"])
}

func TestLogger_RedactionDisabled(t *testing.T) {
	log, logs := observed(false)

	log.Debug("debugging", "email", "ada@example.com")

	assert.Equal(t, "ada@example.com", logs.All()[0].ContextMap()["email"])
}

func TestLogger_WithKeepsRedaction(t *testing.T) {
	log, logs := observed(true)

	log.With("user_email", "ada@example.com").Error("failed")

	assert.Equal(t, redacted, logs.All()[0].ContextMap()["user_email"])
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
}

func TestLogger_OddKeyValues(t *testing.T) {
	log, logs := observed(true)

	log.Info("odd", "status", 201, "dangling")

	entries := logs.FilterMessage("odd").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 201, entries[0].ContextMap()["status"])
}

func TestRedactionFromEnv(t *testing.T) {
	t.Setenv("LOG_REDACTION_ENABLED", "false")
	assert.False(t, redactionFromEnv())

	t.Setenv("LOG_REDACTION_ENABLED", "")
	assert.True(t, redactionFromEnv())
}

func TestNew(t *testing.T) {
	for _, mode := range []string{"dev", "production"} {
		log, err := New(mode)
		require.NoError(t, err)
		assert.NotNil(t, log.SugaredLogger)
	}
}
