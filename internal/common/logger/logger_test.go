package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/dumeirei/loyalty-settlement/internal/common/config"
)

func TestInit_Formats(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		t.Run(format, func(t *testing.T) {
			err := Init(&config.LoggerConfig{Level: "debug", Format: format, Output: "stdout", Caller: true})
			require.NoError(t, err)
			assert.NotNil(t, GetLogger())
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"WARN", zapcore.WarnLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, getLogLevel(tt.level), tt.level)
	}
}

func TestDomainFields(t *testing.T) {
	f := BusinessID(42)
	assert.Equal(t, "business_id", f.Key)
	assert.Equal(t, int64(42), f.Integer)

	f = SettlementID(7)
	assert.Equal(t, "settlement_id", f.Key)
	assert.Equal(t, int64(7), f.Integer)

	f = BatchType("daily")
	assert.Equal(t, "batch_type", f.Key)
	assert.Equal(t, "daily", f.String)

	f = TaskID("daily_settlement")
	assert.Equal(t, "task_id", f.Key)
	assert.Equal(t, "daily_settlement", f.String)

	f = Amount(38680)
	assert.Equal(t, "amount", f.Key)
	assert.Equal(t, int64(38680), f.Integer)

	start := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	f = Period(start, start.AddDate(0, 0, 1))
	assert.Equal(t, "period", f.Key)
	assert.Equal(t, "2026-10-15T00:00:00Z~2026-10-16T00:00:00Z", f.String)
}

func TestJSONFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "settlement.log")

	err := Init(&config.LoggerConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	})
	require.NoError(t, err)

	Debug("hidden")
	Info("batch finished", BatchType("weekly"), BusinessID(3))
	_ = Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "batch finished", entry["msg"])
	assert.Equal(t, "weekly", entry["batch_type"])
	assert.Equal(t, float64(3), entry["business_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestNew_OutputValidation(t *testing.T) {
	_, err := New(&config.LoggerConfig{Output: "file"})
	assert.ErrorContains(t, err, "requires file_path")

	_, err = New(&config.LoggerConfig{Output: "syslog"})
	assert.ErrorContains(t, err, "unknown logger output")

	l, err := New(&config.LoggerConfig{Output: OutputBoth, FilePath: filepath.Join(t.TempDir(), "both.log")})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestInit_KeepsPreviousOnError(t *testing.T) {
	require.NoError(t, Init(&config.LoggerConfig{Level: "warn", Output: "stdout"}))
	before := GetLogger()

	require.Error(t, Init(&config.LoggerConfig{Output: "file"}))
	assert.Same(t, before, GetLogger())
}

func TestNamed(t *testing.T) {
	require.NoError(t, Init(&config.LoggerConfig{Level: "info", Format: "console", Output: "stdout"}))
	assert.NotNil(t, Named("scheduler"))
}
