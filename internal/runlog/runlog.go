// Package runlog sets up structured logging for a feedkeeper process and
// keeps a copy of everything logged during the current run.
package runlog

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TobiSchelling/feedkeeper/internal/config"
)

// Log is the logger of one process run.
type Log struct {
	Logger *slog.Logger
	RunID  string

	capture *captureBuffer
	rotator *lumberjack.Logger
}

// New creates a text logger writing to console, to the rotating log file
// at path (skipped when empty) and to the in-memory run capture.
func New(cfg config.Logging, path string, console io.Writer) *Log {
	l := &Log{
		RunID:   uuid.NewString(),
		capture: &captureBuffer{},
	}

	writers := []io.Writer{l.capture}
	if console != nil {
		writers = append(writers, console)
	}
	if path != "" {
		l.rotator = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    max(cfg.MaxSizeMB, 1),
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, l.rotator)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})
	l.Logger = slog.New(handler).With("run_id", l.RunID)
	return l
}

// ParseLevel maps a configured level name to a slog level. Unknown names
// fall back to info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(name)))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Captured returns everything logged through this Log so far.
func (l *Log) Captured() string {
	return l.capture.String()
}

// Reset drops the captured output, starting a new run.
func (l *Log) Reset() {
	l.capture.mu.Lock()
	l.capture.buf.Reset()
	l.capture.mu.Unlock()
}

// Close closes the rotating log file.
func (l *Log) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

type captureBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *captureBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *captureBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
