// slog.go configures the process-wide structured logger. keygate emits one
// JSON object per record in production so request logs ship to an aggregator
// as-is; the text handler is for reading logs in a local terminal.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the default slog logger every package in the service
// logs through. format "json" (case-insensitive) selects the JSON handler,
// anything else the key=value text handler. level is one of "debug", "info",
// "warn"/"warning", "error"; unrecognised values fall back to info. Source
// locations are attached only at debug level, where the cost is acceptable.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger configured", "format", format, "level", lvl.String())
}

func parseLevel(level string) slog.Level {
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
