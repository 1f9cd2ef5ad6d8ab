package logs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetupWritesToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Level:      LogLevelDebug,
		EnableFile: true,
		Filename:   "gate.log",
		LogDir:     dir,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	}

	logger, sanitizer, err := Setup(cfg)
	require.NoError(t, err)
	require.NotNil(t, sanitizer)
	defer func() { _ = logger.Sync() }()

	logger.Info("scan pipeline ready", zap.String("component", "scanner"))

	data, err := os.ReadFile(filepath.Join(dir, "gate.log"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "scan pipeline ready")
	assert.Contains(t, content, "INFO")
	assert.Contains(t, content, " | ")
}

func TestSetupJSONFormat(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Level:      LogLevelInfo,
		EnableFile: true,
		Filename:   "gate.json.log",
		LogDir:     dir,
		JSONFormat: true,
	}

	logger, _, err := Setup(cfg)
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	logger.Warn("alert raised", zap.String("rule", "session-quarantined"))

	data, err := os.ReadFile(filepath.Join(dir, "gate.json.log"))
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "warn", record["level"])
	assert.Equal(t, "alert raised", record["msg"])
	assert.Equal(t, "session-quarantined", record["rule"])
}

func TestSetupNoOutputsConfigured(t *testing.T) {
	_, _, err := Setup(&Config{Level: LogLevelInfo})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log outputs")
}

func TestSetupNilConfigUsesDefaults(t *testing.T) {
	logger, sanitizer, err := Setup(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NotNil(t, sanitizer)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestSetupMasksRegisteredSecretInFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Level:      LogLevelInfo,
		EnableFile: true,
		Filename:   "masked.log",
		LogDir:     dir,
	}

	logger, sanitizer, err := Setup(cfg)
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	const token = "resolved-api-credential-0042"
	sanitizer.RegisterResolvedSecret(token)

	logger.Info("upstream call failed", zap.String("auth", token))

	data, err := os.ReadFile(filepath.Join(dir, "masked.log"))
	require.NoError(t, err)

	content := string(data)
	assert.NotContains(t, content, token)
	assert.Contains(t, content, "res***42")
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name string
		want zapcore.Level
	}{
		{LogLevelTrace, zap.DebugLevel},
		{LogLevelDebug, zap.DebugLevel},
		{LogLevelInfo, zap.InfoLevel},
		{LogLevelWarn, zap.WarnLevel},
		{LogLevelError, zap.ErrorLevel},
		{"verbose", zap.InfoLevel},
		{"", zap.InfoLevel},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, parseLevel(tc.name), "level %q", tc.name)
	}
}

func TestSetupCommandLoggerDefaults(t *testing.T) {
	serveLogger, _, err := SetupCommandLogger(true, "", false, "")
	require.NoError(t, err)
	assert.True(t, serveLogger.Core().Enabled(zapcore.InfoLevel))

	cliLogger, _, err := SetupCommandLogger(false, "", false, "")
	require.NoError(t, err)
	assert.False(t, cliLogger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, cliLogger.Core().Enabled(zapcore.WarnLevel))

	verboseLogger, _, err := SetupCommandLogger(false, LogLevelDebug, false, "")
	require.NoError(t, err)
	assert.True(t, verboseLogger.Core().Enabled(zapcore.DebugLevel))
}

func TestGetLogDirMentionsProduct(t *testing.T) {
	dir, err := GetLogDir()
	require.NoError(t, err)
	assert.Contains(t, dir, "aegisgate")
}

func TestGetLogFilePathWithDirCreatesDirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "logs")

	path, err := GetLogFilePathWithDir(base, "main.log")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "main.log"), path)

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGetLogFilePathWithDirExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := GetLogFilePathWithDir("~/gate-logs", "main.log")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "gate-logs", "main.log"), path)
}
