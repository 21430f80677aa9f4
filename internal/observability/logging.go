// Package observability provides the pipeline's structured logging and
// Prometheus metrics.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudthistle/era5-etl/internal/config"
	"github.com/cloudthistle/era5-etl/internal/domain"
)

// NewLogger builds the process-wide logger from config (LOG_LEVEL and
// LOG_FORMAT json|text).
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// TaskLog is a per-attempt log file with its own slog.Logger. One file is
// written per task attempt so a failed unit can be diagnosed in isolation.
type TaskLog struct {
	Logger *slog.Logger
	Path   string
	file   *os.File
}

// NewTaskLog creates logs/<kind>_<year>_<month>[_<file>].log under logDir.
// The suffix carries the raw file base name for extraction tasks and is empty
// for join and sort tasks.
func NewTaskLog(logDir, kind string, unit domain.UnitKey, suffix string) (*TaskLog, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	name := fmt.Sprintf("%s_%d_%02d", kind, unit.Year, unit.Month)
	if suffix != "" {
		name += "_" + sanitize(suffix)
	}
	path := filepath.Join(logDir, name+".log")

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create task log: %w", err)
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &TaskLog{Logger: slog.New(handler), Path: path, file: f}, nil
}

// Close flushes and closes the log file.
func (t *TaskLog) Close() error {
	return t.file.Close()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, s)
}

var _ io.Closer = (*TaskLog)(nil)
