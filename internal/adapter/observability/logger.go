package observability

import (
	"log/slog"
	"os"

	"github.com/kamusis/swissql-sub000/internal/config"
)

// SetupLogger builds the process logger: JSON records on stdout with the
// service name and environment stamped on every line. Dev runs log at debug
// with source locations; test runs are quieted down to warnings.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case cfg.IsDev():
		level = slog.LevelDebug
	case cfg.IsTest():
		level = slog.LevelWarn
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.IsDev(),
	})
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
