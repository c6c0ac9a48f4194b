package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the process-wide slog default logger.
//
// format: "json" → JSONHandler, anything else → TextHandler.
// level:  "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
// output: "stderr" writes to standard error, anything else to standard output.
//
// Packages log through slog.Default() (slog.Info, slog.Warn, ...) rather than carrying a
// *slog.Logger around, so this must run before any job is started.
func SetupLogger(format, level, output string) {
	lvl := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var w io.Writer = os.Stdout
	if strings.EqualFold(output, "stderr") {
		w = os.Stderr
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialised", "format", format, "level", lvl.String(), "output", output)
}

// ParseLevel maps a configuration string to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
