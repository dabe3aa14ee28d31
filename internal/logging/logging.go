// Package logging configures the process-wide slog logger: JSON records on
// stdout at the configured level, optionally fanned out to Sentry.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// Config holds logging configuration.
type Config struct {
	Level             string `yaml:"level" env:"LOG_LEVEL"`
	SentryDSN         string `yaml:"sentry_dsn" env:"SENTRY_DSN"`
	SentryEnvironment string `yaml:"sentry_environment" env:"SENTRY_ENVIRONMENT"`
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New builds a logger writing JSON to w. When a Sentry DSN is configured,
// errors also become Sentry events and warnings are kept as Sentry logs.
// The returned flush func waits for buffered Sentry events.
func New(cfg Config, w io.Writer) (*slog.Logger, func()) {
	level := ParseLevel(cfg.Level)
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	noop := func() {}

	if cfg.SentryDSN == "" {
		return slog.New(jsonHandler), noop
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		EnableLogs:  true,
	}); err != nil {
		slog.New(jsonHandler).Error("failed to initialize Sentry", "error", err)
		return slog.New(jsonHandler), noop
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	flush := func() { sentry.Flush(2 * time.Second) }
	return slog.New(newMultiHandler(jsonHandler, sentryHandler)), flush
}

// Setup installs the logger from New as the slog default.
func Setup(cfg Config) func() {
	logger, flush := New(cfg, os.Stdout)
	slog.SetDefault(logger)
	return flush
}
