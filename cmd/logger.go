package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pbspro/sched-ctl/config"
)

// ProvideLogger builds the process-wide slog.Logger: rotated file
// output via lumberjack when a log file is configured, an otelslog
// bridge layered on top so structured fields also reach the configured
// OpenTelemetry log pipeline, matching the teacher's go.mod stack for
// this concern (otelslog + lumberjack) even though the teacher's own
// wiring code for it wasn't in the retrieved sources.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     28,
			Compress:   true,
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo})

	provider := sdklog.NewLoggerProvider()
	bridge := otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(provider))

	logger := slog.New(fanInHandler{primary: handler, secondary: bridge})
	slog.SetDefault(logger)
	return logger
}

// fanInHandler duplicates every record to two slog.Handlers: the
// rotated file sink and the OpenTelemetry bridge. slog has no built-in
// multi-handler, so this is the minimal fan-out shim.
type fanInHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h fanInHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h fanInHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.primary.Handle(ctx, r.Clone()); err != nil {
		return err
	}
	return h.secondary.Handle(ctx, r.Clone())
}

func (h fanInHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fanInHandler{primary: h.primary.WithAttrs(attrs), secondary: h.secondary.WithAttrs(attrs)}
}

func (h fanInHandler) WithGroup(name string) slog.Handler {
	return fanInHandler{primary: h.primary.WithGroup(name), secondary: h.secondary.WithGroup(name)}
}
