// Package log provides the logging infrastructure shared by all components
// of the documentation assistant.
//
// Loggers are injected through constructors rather than accessed as package
// globals. Each component narrows its logger with With() to tag its log
// records:
//
//	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: true})
//	retriever := retrieve.New(store, embedder, logger.With("component", "retriever"))
//
// Tests use NewNop() to silence output, or NewWithWriter with a bytes.Buffer
// to assert on log content.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is an alias for *slog.Logger. Components accept log.Logger as a
// dependency; the alias keeps full access to the slog API (With, WithGroup)
// without an interface indirection.
type Logger = *slog.Logger

// Config controls logger output.
type Config struct {
	// Level is the minimum level emitted. Default: slog.LevelInfo.
	Level slog.Level

	// JSON switches output to JSON records; the default is logfmt-style text.
	JSON bool

	// AddSource annotates records with file:line of the call site.
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards everything. Test use only; production
// call sites should always pass a configured logger.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a configuration string to a slog level. Unknown values fall
// back to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
