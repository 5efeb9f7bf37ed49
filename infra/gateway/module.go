package gateway

import (
	"log/slog"

	"github.com/webitel/kook-mirror-service/config"
	"github.com/webitel/kook-mirror-service/infra/client/kook"
	"github.com/webitel/kook-mirror-service/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(func(client *kook.Client, provider pubsub.Provider, cfg *config.Config, logger *slog.Logger) *Gateway {
		opts := DefaultOptions()
		opts.URL = cfg.Kook.GatewayURL
		opts.Compress = cfg.Kook.Compress
		return New(client, provider.Publisher(), opts, logger)
	}),

	// [LIFECYCLE] Listed after the events handler so the router subscribes before the first frame.
	fx.Invoke(func(lc fx.Lifecycle, g *Gateway) {
		lc.Append(fx.StartStopHook(g.Start, g.Stop))
	}),
)
