package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelQuiet, Output: &buf})
	require.NoError(t, err)

	logger.Info("should be suppressed")
	logger.Error("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be suppressed")
	assert.Contains(t, out, "should appear")
}

func TestNewLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	require.NoError(t, err)

	logger.Infof("job %s done", "abc")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job abc done", entry["msg"])
}

func TestNewLoggerWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, LogFile: path})
	require.NoError(t, err)

	logger.Info("persisted line")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted line")
	assert.Contains(t, buf.String(), "persisted line")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden at normal")
	logger.SetLevel(LogLevelDebug)
	logger.Debug("visible at debug")

	assert.Equal(t, LogLevelDebug, logger.GetLevel())
	assert.NotContains(t, buf.String(), "hidden at normal")
	assert.Contains(t, buf.String(), "visible at debug")
}

func TestLogBackupOperation(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf})
	require.NoError(t, err)

	logger.LogBackupOperation("execute", "job-1", "acme", 2*time.Second, nil)
	assert.Contains(t, buf.String(), "job-1")
	assert.Contains(t, buf.String(), "acme")

	buf.Reset()
	logger.LogBackupOperation("restore", "job-2", "acme", time.Second, errors.New("disk full"))
	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, strings.ToLower(buf.String()), "error")
}

func TestLogIntegrityScan(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf})
	require.NoError(t, err)

	logger.LogIntegrityScan("ORPHANED_RECORDS", "acme", 5, 5, time.Second, nil)
	assert.Contains(t, buf.String(), "ORPHANED_RECORDS")
	assert.Contains(t, buf.String(), "issues_found=5")
}

func TestLogExternalCommandFailureIsError(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelQuiet, Output: &buf})
	require.NoError(t, err)

	// Exit 0 logs at debug, suppressed when quiet.
	logger.LogExternalCommand("tar", []string{"-czf"}, 0, time.Second)
	assert.Empty(t, buf.String())

	logger.LogExternalCommand("tar", []string{"-czf"}, 2, time.Second)
	assert.Contains(t, buf.String(), "exit_code=2")
}
