package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	slogmulti "github.com/samber/slog-multi"
	"github.com/webitel/kook-mirror-service/config"
	"github.com/webitel/kook-mirror-service/infra/telemetry"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
)

// ProvideLogger fans records out to stdout and, when an exporter is configured, the otel log bridge.
// The stdout level follows log.level and is hot-reloaded from the config file.
func ProvideLogger(cfg *config.Config, tel *telemetry.Providers) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)

	opts := &slog.HandlerOptions{Level: level}
	var stdout slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Log.Format == "text" {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	handlers := []slog.Handler{stdout}
	if tel.Logs != nil {
		handlers = append(handlers, otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(tel.Logs)))
	}
	logger := slog.New(slogmulti.Fanout(handlers...)).With("service", ServiceName)

	slog.SetDefault(logger)
	cfg.WatchLogLevel(level, logger)
	return logger, nil
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// ProvideTelemetry installs the global trace and log pipelines selected by otel.exporter.
// Everything logs through it, so its stop hook is registered first and runs last.
func ProvideTelemetry(lc fx.Lifecycle, cfg *config.Config) (*telemetry.Providers, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.namespace", ServiceNamespace),
		attribute.String("service.version", version),
	)
	tel, err := telemetry.New(context.Background(), telemetry.Options{
		Exporter: cfg.OTel.Exporter,
		Endpoint: cfg.OTel.Endpoint,
	}, res)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(tel.Shutdown))
	return tel, nil
}
