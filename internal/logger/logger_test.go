package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileAndCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dbconsole.log")
	l, err := New(Options{Level: "info", Path: path})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("catalog refreshed", "databases", 2)
	l.Warn("failed to list tables", "database", "crm")
	l.Error("backend unreachable")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"catalog refreshed"`)
	assert.Contains(t, string(data), `"database":"crm"`)

	warn, errs := l.Counts()
	assert.Equal(t, 1, warn)
	assert.Equal(t, 1, errs)

	recent := l.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "failed to list tables", recent[0].Message)
	assert.Contains(t, recent[1].Format(), "ERROR backend unreachable")

	l.ClearCounts()
	warn, errs = l.Counts()
	assert.Zero(t, warn+errs)
	assert.Len(t, l.Recent(), 2)
}

func TestNew_ConsoleOnlyWarnings(t *testing.T) {
	var console bytes.Buffer
	l, err := New(Options{Level: "debug", Console: &console})
	require.NoError(t, err)

	l.Info("quiet")
	l.With("job", "sync_users").Warn("poll failed")

	assert.NotContains(t, console.String(), "quiet")
	assert.Contains(t, console.String(), "poll failed")
	assert.Contains(t, console.String(), "job=sync_users")
	assert.Empty(t, l.Path())
}

func TestRingBuffer_Wraps(t *testing.T) {
	l, err := New(Options{BufferSize: 3})
	require.NoError(t, err)

	for _, msg := range []string{"a", "b", "c", "d"} {
		l.Warn(msg)
	}

	var got []string
	for _, e := range l.Recent() {
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"b", "c", "d"}, got)
	warn, _ := l.Counts()
	assert.Equal(t, 4, warn)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
