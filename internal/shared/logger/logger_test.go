package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"firestore-driver/internal/shared/contextkeys"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerInterface_Contract(t *testing.T) {
	var _ Logger = NewLogger()
	var _ Logger = NewNop()
	var _ Logger = &LogrusLogger{}
	var _ Logger = &ZapLogger{}
}

func TestLogrusLogger_JSONCarriesContextFields(t *testing.T) {
	var out bytes.Buffer
	log, err := New(Options{Level: "debug", Format: FormatJSON, Output: &out})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), contextkeys.RunIDKey, "run-1")
	log.WithContext(ctx).WithComponent("fixture").Debugf("provisioned %s", "items-run-1-0001")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "provisioned items-run-1-0001", entry["message"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "fixture", entry["component"])
	assert.Equal(t, "debug", entry["level"])
}

func TestLogrusLogger_UnknownLevelLogsInfo(t *testing.T) {
	var out bytes.Buffer
	log, err := New(Options{Level: "chatty", Output: &out})
	require.NoError(t, err)
	log.Debug("hidden")
	assert.Empty(t, out.String())
	log.Info("shown")
	assert.Contains(t, out.String(), "shown")
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_BACKEND", "ZAP")
	t.Setenv("ENVIRONMENT", "production")
	assert.Equal(t, Options{Level: "warn", Format: FormatJSON, Backend: BackendZap}, OptionsFromEnv())

	t.Setenv("ENVIRONMENT", "development")
	assert.Equal(t, FormatText, OptionsFromEnv().Format)

	log, err := New(OptionsFromEnv())
	require.NoError(t, err)
	assert.IsType(t, &ZapLogger{}, log)
}

func TestZapLogger_CarriesContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := NewZapLogger(zap.New(core))

	ctx := context.WithValue(context.Background(), contextkeys.DriverKey, "client")
	ctx = context.WithValue(ctx, contextkeys.CollectionKey, "items-run-1-0001")
	log.WithContext(ctx).WithComponent("fixture").WithFields(map[string]interface{}{"seeded": 2}).Info("seeded items")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "seeded items", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "client", fields["driver"])
	assert.Equal(t, "items-run-1-0001", fields["collection"])
	assert.Equal(t, "fixture", fields["component"])
	assert.EqualValues(t, 2, fields["seeded"])
}

func TestNewProductionZapLogger_FallsBackToInfo(t *testing.T) {
	log, err := NewProductionZapLogger("not-a-level")
	require.NoError(t, err)
	assert.NotNil(t, log)
}
