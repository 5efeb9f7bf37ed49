package cmd

import (
	"log/slog"
	"time"

	"github.com/webitel/kook-mirror-service/config"
	"github.com/webitel/kook-mirror-service/infra/client/kook"
	"github.com/webitel/kook-mirror-service/infra/gateway"
	httpsrv "github.com/webitel/kook-mirror-service/infra/server/http"
	"github.com/webitel/kook-mirror-service/internal/adapter/pubsub"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
	"github.com/webitel/kook-mirror-service/internal/handler/events"
	"github.com/webitel/kook-mirror-service/internal/handler/rest"
	"github.com/webitel/kook-mirror-service/internal/handler/ws"
	"github.com/webitel/kook-mirror-service/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// startTimeout covers the initial full sync, which runs inside the start hook.
const startTimeout = 5 * time.Minute

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.StartTimeout(startTimeout),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideTelemetry,
			ProvideLogger,
			ProvideWatermillLogger,
		),
		kook.Module,
		registry.Module,
		pubsub.Module,
		service.Module,
		events.Module,
		gateway.Module,
		httpsrv.Module,
		rest.Module,
		ws.Module,
	)
}
