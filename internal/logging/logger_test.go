package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "batch_process.log")

	for i := 0; i < 2; i++ {
		var console bytes.Buffer
		logger, closer, err := New(Options{Level: "info", FilePath: path, Console: &console})
		require.NoError(t, err)

		ctx := WithRunID(context.Background(), "run-1")
		logger.InfoContext(ctx, "processed file", "file", "a.xlsx")
		logger.Debug("hidden")
		require.NoError(t, closer.Close())

		assert.Contains(t, console.String(), "run_id=run-1")
		assert.NotContains(t, console.String(), "hidden")
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("msg=\"processed file\"")), "second logger must append")
}

func TestNewWithoutFile(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := New(Options{Level: "debug", Console: &console})
	require.NoError(t, err)
	logger.With("phase", 3).Debug("merging")
	assert.NoError(t, closer.Close())
	assert.Contains(t, console.String(), "phase=3")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestRunID(t *testing.T) {
	assert.Equal(t, "", RunID(context.Background()))
	assert.Equal(t, "abc", RunID(WithRunID(context.Background(), "abc")))
}
