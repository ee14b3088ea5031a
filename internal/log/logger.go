package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// SetupWriter initializes the global logger writing to w.
// logic: default to INFO and JSON. Invalid values fall back to the defaults.
func SetupWriter(level, format string, w io.Writer) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}
		var handler slog.Handler
		if strings.EqualFold(format, "text") {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a level name to a slog level, INFO if unknown.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger. Until SetupWriter is called it writes
// INFO and above as JSON to stderr; stdout belongs to the query server
// protocol and never carries log output.
func Get() *slog.Logger {
	if logger == nil {
		SetupWriter("INFO", "json", os.Stderr)
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithFragment returns a logger with the cache key of a fragment set.
func WithFragment(key string) *slog.Logger {
	return Get().With(slog.String("fragment", key))
}

// WithDesignDoc returns a logger with the design document id set.
func WithDesignDoc(id string) *slog.Logger {
	return Get().With(slog.String("ddoc", id))
}
