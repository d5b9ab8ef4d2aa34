// Package logging sets up slog for the CLI and for the render worker. Both
// processes log nothing unless debug logging is on, in which case each one
// writes to its own rotating file.
package logging

import (
	"cmp"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/docker/themethumb/pkg/paths"
)

// DefaultPath is where the CLI logs with --debug and no --log-file.
func DefaultPath() string {
	return filepath.Join(paths.GetDataDir(), "themethumb.debug.log")
}

// WorkerPath is the worker's log file next to the parent's.
func WorkerPath(parent string) string {
	return cmp.Or(strings.TrimSpace(parent), DefaultPath()) + ".worker"
}

// Setup installs the default logger. Without debug everything is discarded.
// With debug, records go to a rotating file at path (DefaultPath when empty),
// which the caller must close.
func Setup(debug bool, path string) (io.Closer, error) {
	if !debug {
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return nil, nil
	}

	logFile, err := NewRotatingFile(cmp.Or(strings.TrimSpace(path), DefaultPath()))
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return logFile, nil
}

// Fallback logs to w when the log file could not be opened.
func Fallback(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
