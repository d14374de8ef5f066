package logging

import (
	"fmt"
	"io"
	stdlib "log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/slotfeed/internal/config"
)

// RunIDField tags every entry with the run it belongs to.
const RunIDField = "run"

// Logger writes structured entries to stderr and, when configured, to an
// append-only log file so failures stay visible after the batch session ends.
type Logger struct {
	*logrus.Logger
	file *os.File
}

// New builds a logger from the logging section of a run config.
func New(cfg config.LoggingConfig, stderr io.Writer) (*Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	base := logrus.New()
	base.SetLevel(level)
	switch cfg.Format {
	case config.FormatJSON:
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}

	l := &Logger{Logger: base}
	out := stderr
	if out == nil {
		out = os.Stderr
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		l.file = f
		out = io.MultiWriter(out, f)
	}
	base.SetOutput(out)
	return l, nil
}

// ForRun returns an entry carrying the run id.
func (l *Logger) ForRun(runID string) *logrus.Entry {
	return l.WithField(RunIDField, runID)
}

// CaptureStdlib routes the standard library logger through l.
func (l *Logger) CaptureStdlib() {
	stdlib.SetFlags(0)
	stdlib.SetOutput(stdlibWriter{l.Logger})
}

// Close releases the log file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

type stdlibWriter struct{ *logrus.Logger }

func (w stdlibWriter) Write(p []byte) (int, error) {
	w.Logger.Print(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
