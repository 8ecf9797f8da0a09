package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	ServiceName    = "chatdesk"
	ServiceVersion = "1.0.0"
)

func rotatingFile(dir, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger initializes structured logging with rotation under dir.
// The returned closer flushes and closes the log file.
func InitLogger(dir string, debug bool) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, errors.Wrap(err, "failed to create logs directory")
	}

	file := rotatingFile(dir, "chatdesk.log")

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	// Log only to file; stdout belongs to the conversation.
	logger := slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return logger, file, nil
}

// InitTelemetry initializes OpenTelemetry tracing and metrics.
// Traces and metrics are exported as JSON to rotating files under dir;
// metrics are flushed every 10 seconds.
func InitTelemetry(ctx context.Context, dir string) (trace.Tracer, metric.Meter, func(), error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to create resource")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to create logs directory")
	}

	traceFile := rotatingFile(dir, "chatdesk_traces.log")
	traceExporter, err := stdouttrace.New(
		stdouttrace.WithWriter(traceFile),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to create trace exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricsFile := rotatingFile(dir, "chatdesk_metrics.log")
	metricExporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(metricsFile),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to create metric exporter")
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				metricExporter,
				sdkmetric.WithInterval(10*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown meter provider", "error", err)
		}
		if err := traceFile.Close(); err != nil {
			slog.Error("failed to close trace file", "error", err)
		}
		if err := metricsFile.Close(); err != nil {
			slog.Error("failed to close metrics file", "error", err)
		}
	}

	return tp.Tracer(ServiceName), mp.Meter(ServiceName), cleanup, nil
}
