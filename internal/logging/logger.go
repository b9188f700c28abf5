// =============================================================================
// Excel Workflow - Logging
// =============================================================================

// Package logging builds the slog loggers used by the pipeline phases.
//
// Each phase logs to its own append-only text file (batch_process.log for
// the single-file and batch phases, merge_results.log for the merge) and
// mirrors every record to the console. Records logged with a context that
// carries a run ID get a run_id attribute.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// LOGGER CONSTRUCTION
// =============================================================================

type contextKey string

const runIDContextKey contextKey = "run_id"

// Options configures a logger.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// FilePath is the log file. Parent directories are created. The file is
	// opened for appending and never truncated. Empty disables file output.
	FilePath string

	// Console receives a copy of every record. Nil means os.Stderr.
	Console io.Writer
}

// New creates a text logger writing to the console and the log file.
// The returned closer closes the log file; it is safe to call when no file
// was opened.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	var (
		output io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if opts.FilePath != "" {
		file, err := openLogFile(opts.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = io.MultiWriter(console, file)
		closer = file
	}

	handler := slog.NewTextHandler(output, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	return slog.New(&runHandler{Handler: handler}), closer, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// RUN ID
// =============================================================================

// WithRunID returns a context whose log records carry the run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDContextKey, runID)
}

// RunID returns the run ID stored in ctx, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDContextKey).(string)
	return id
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// runHandler adds the run_id attribute from the record's context.
type runHandler struct {
	slog.Handler
}

func (h *runHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RunID(ctx); id != "" {
		r.AddAttrs(slog.String("run_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *runHandler) WithGroup(name string) slog.Handler {
	return &runHandler{Handler: h.Handler.WithGroup(name)}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
