package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestNewStructured_WritesJSONFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.log")

	log := NewStructured("info", "json", path).
		WithFields(map[string]interface{}{"component": "workflow"}).
		WithError(errors.New("version conflict"))
	log.Debug("hidden", nil)
	log.Warn("transition refused", map[string]interface{}{"applicationId": "APP-1"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "transition refused", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "workflow", entry["component"])
	assert.Equal(t, "APP-1", entry["applicationId"])
	assert.Equal(t, "version conflict", entry["error"])
}

func TestNoOpLogger(t *testing.T) {
	log := NewNoOpLogger()
	assert.NotPanics(t, func() {
		log.WithFields(map[string]interface{}{"a": 1}).Error("dropped", nil)
	})
}
