// Package logger builds the dev server's slog logger.
//
// With a log directory configured, JSON records are written to
//
//	<logDir>/devserver.log
//
// and rotated by size. Without one, a text handler writes to the given terminal
// writer so proxy and reload activity is visible while developing.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file created inside the log directory.
const FileName = "devserver.log"

// Rotation limits for the log file.
const (
	maxSizeMB  = 20
	maxBackups = 5
	maxAgeDays = 14
)

// New returns a logger writing to logDir when it is set, otherwise to w.
// The returned closer flushes and closes the log file; it is a no-op for w.
func New(logDir string, level slog.Level, w io.Writer) (*slog.Logger, io.Closer, error) {
	if logDir == "" {
		handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
		return slog.New(handler), nopCloser{}, nil
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory %q: %w", logDir, err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, FileName),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})
	return slog.New(handler), rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
