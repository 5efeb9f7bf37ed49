package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Options struct {
	// Exporter is one of none, stdout or otlp.
	Exporter string
	// Endpoint overrides the OTLP endpoint URL; empty falls back to OTEL_EXPORTER_OTLP_* env.
	Endpoint string
	// Writer receives stdout exporter output. Defaults to os.Stderr.
	Writer io.Writer
}

// Providers owns the trace and log pipelines. Logs is nil when nothing is exported.
type Providers struct {
	Traces *sdktrace.TracerProvider
	Logs   *sdklog.LoggerProvider
}

// New builds both pipelines for opts.Exporter and installs them as the otel globals.
func New(ctx context.Context, opts Options, res *resource.Resource) (*Providers, error) {
	spans, records, err := exporters(ctx, opts)
	if err != nil {
		return nil, err
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if spans != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spans))
	}
	p := &Providers{Traces: sdktrace.NewTracerProvider(traceOpts...)}
	otel.SetTracerProvider(p.Traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if records != nil {
		p.Logs = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(records)),
		)
		global.SetLoggerProvider(p.Logs)
	}
	return p, nil
}

func exporters(ctx context.Context, opts Options) (sdktrace.SpanExporter, sdklog.Exporter, error) {
	switch opts.Exporter {
	case "", ExporterNone:
		return nil, nil, nil

	case ExporterStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		spans, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		records, err := stdoutlog.New(stdoutlog.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("stdout log exporter: %w", err)
		}
		return spans, records, nil

	case ExporterOTLP:
		var traceOpts []otlptracehttp.Option
		var logOpts []otlploghttp.Option
		if opts.Endpoint != "" {
			traceOpts = append(traceOpts, otlptracehttp.WithEndpointURL(opts.Endpoint))
			logOpts = append(logOpts, otlploghttp.WithEndpointURL(opts.Endpoint))
		}
		spans, err := otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		records, err := otlploghttp.New(ctx, logOpts...)
		if err != nil {
			return nil, nil, errors.Join(fmt.Errorf("otlp log exporter: %w", err), spans.Shutdown(ctx))
		}
		return spans, records, nil

	default:
		return nil, nil, fmt.Errorf("unknown otel exporter %q", opts.Exporter)
	}
}

// Shutdown flushes pending spans and records.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.Traces.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trace provider: %w", err))
	}
	if p.Logs != nil {
		if err := p.Logs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
