// Package logging provides structured logging for the tally metrics engine.
//
// Every background activity logs through a component logger so lines can be
// filtered by origin:
//
//	logging.Init(slog.LevelInfo, false)
//	log := logging.Component("ingestion")
//	log.Error("background flush failed", "error", err, "buffered", n)
//
// Foreground validation failures are returned to the caller, not logged.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// Init initializes the global logger on stdout with the specified level and
// format. If jsonFormat is true, logs are output as JSON; otherwise,
// human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	Setup(os.Stdout, level, jsonFormat)
}

// Setup initializes the global logger on w. Debug level adds source
// locations.
func Setup(w io.Writer, level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)

	mu.Lock()
	logger = l
	mu.Unlock()

	slog.SetDefault(l)
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries. Without a
// prior Init the process default logger is used.
//
// Example:
//
//	log := logging.Component("retention")
//	log.Info("started") // Output: time=... level=INFO component=retention msg=started
func Component(name string) *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()

	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

// Discard returns a logger that drops everything. Tests use it to keep
// output quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
