package core

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLogWriterWritesHeaderAndEntries(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSessionLogWriter(dir, "job-1", "healthos_doctor_1")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "job-1.active"))

	var seen []string
	base := NewLogger(func(level, msg string, _ map[string]any) { seen = append(seen, level+" "+msg) })
	logger := NewSessionLogger(base, w)
	logger.Info("session started", "patient", "Unknown", "error", errors.New("boom"))
	w.Close()

	assert.Equal(t, []string{"INFO session started"}, seen)
	assert.NoFileExists(t, filepath.Join(dir, "job-1.active"))

	f, err := os.Open(filepath.Join(dir, "job-1.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var header SessionHeader
	require.NoError(t, sonic.Unmarshal(scanner.Bytes(), &header))
	assert.Equal(t, "job-1", header.JobID)
	assert.Equal(t, "healthos_doctor_1", header.RoomName)

	require.True(t, scanner.Scan())
	var entry LogEntry
	require.NoError(t, sonic.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "session started", entry.Message)
	assert.Equal(t, "boom", entry.Attrs["error"])
	assert.False(t, scanner.Scan())
}

func TestLoggerFromContextPrefersSessionLogger(t *testing.T) {
	session := NewLogger(nil)
	fallback := NewLogger(nil)

	ctx := ContextWithSessionLogger(context.Background(), session)
	assert.Same(t, session, LoggerFromContext(ctx, fallback))
	assert.Same(t, fallback, LoggerFromContext(context.Background(), fallback))
}
