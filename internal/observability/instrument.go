// Package observability installs the process-wide slog logger.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/florianilch/acctkeeper"

// Instrument sets slog's default logger for the given level and format.
//
// "text" and "json" write to stderr. "otel" routes records through the
// OpenTelemetry log bridge to exporter ("stdout", "otlp-http" or
// "otlp-grpc"); OTLP endpoints come from the standard OTEL_EXPORTER_OTLP_*
// variables. The returned shutdown flushes pending records.
func Instrument(ctx context.Context, level slog.Level, format, exporter string) (shutdown func(context.Context) error, err error) {
	return instrument(ctx, os.Stderr, level, format, exporter)
}

func instrument(ctx context.Context, w io.Writer, level slog.Level, format, exporter string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch format {
	case "", "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
		return noop, nil
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
		return noop, nil
	case "otel":
	default:
		return nil, fmt.Errorf("unsupported log format: %q", format)
	}

	exp, err := newExporter(ctx, w, exporter)
	if err != nil {
		return nil, err
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exp), severity(level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
	global.SetLoggerProvider(provider)

	slog.SetDefault(slog.New(otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))))

	return func(ctx context.Context) error {
		return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	}, nil
}

func newExporter(ctx context.Context, w io.Writer, name string) (sdklog.Exporter, error) {
	switch name {
	case "", "stdout":
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case "otlp-http":
		return otlploghttp.New(ctx)
	case "otlp-grpc":
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter: %q", name)
	}
}

// severity maps a slog level onto the OpenTelemetry severity scale.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
