package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup configures the standard library logger to emit structured JSON on
// stdout and returns the base slog.Logger for the operator. String fields
// that are not on the redaction allowlist are masked by the handler itself,
// so wallet keys, HMAC secrets and signatures cannot leak through a careless
// call site. Log level comes from INTENTD_LOG_LEVEL (debug|info|warn|error).
func Setup(service, env string) *slog.Logger {
	base := NewLogger(os.Stdout, service, env)
	slog.SetDefault(base)

	// Bridge the standard library logger so remaining log.Printf call sites
	// flow through the same handler.
	stdBridge := slog.NewLogLogger(base.Handler(), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// NewLogger builds the operator logger against an arbitrary writer. Split
// out from Setup so tests can capture output without touching the process
// defaults.
func NewLogger(w io.Writer, service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     levelFromEnv(),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			if attr.Value.Kind() == slog.KindString && !IsAllowlisted(attr.Key) {
				return slog.String(attr.Key, MaskValue(attr.Value.String()))
			}
			return attr
		},
	})

	attrs := []any{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return slog.New(handler).With(attrs...)
}

// RunLogger scopes a logger to one pipeline run. Every line carries the run
// id and source, so call sites only add what varies.
func RunLogger(base *slog.Logger, runID, source string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("runId", runID), slog.String("source", source))
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("INTENTD_LOG_LEVEL"))) {
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
