package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log"
)

// NewLogger returns a logger writing records below error level to stdout, error
// records to stderr, and every record to provider when it is not nil.
func NewLogger(name string, stdout, stderr io.Writer, provider log.LoggerProvider) *slog.Logger {
	handlers := []slog.Handler{
		&belowLevel{
			Handler: slog.NewTextHandler(stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
			max:     slog.LevelError,
		},
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	if provider != nil {
		handlers = append(handlers, otelslog.NewHandler(name, otelslog.WithLoggerProvider(provider)))
	}

	return slog.New(&fanout{handlers: handlers})
}

// fanout sends each record to every handler that accepts its level.
type fanout struct {
	handlers []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, record slog.Record) error {
	var err error
	for _, h := range f.handlers {
		if h.Enabled(ctx, record.Level) {
			err = errors.Join(err, h.Handle(ctx, record.Clone()))
		}
	}
	return err
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: handlers}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &fanout{handlers: handlers}
}

// belowLevel drops records at or above max.
type belowLevel struct {
	slog.Handler
	max slog.Level
}

func (b *belowLevel) Enabled(ctx context.Context, level slog.Level) bool {
	return level < b.max && b.Handler.Enabled(ctx, level)
}

func (b *belowLevel) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &belowLevel{Handler: b.Handler.WithAttrs(attrs), max: b.max}
}

func (b *belowLevel) WithGroup(name string) slog.Handler {
	return &belowLevel{Handler: b.Handler.WithGroup(name), max: b.max}
}
