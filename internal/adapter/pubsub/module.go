package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/kook-mirror-service/config"
	"github.com/webitel/kook-mirror-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, logger watermill.LoggerAdapter) (Provider, error) {
			p, err := NewProvider(cfg, logger)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error { return p.Close() },
			})
			return p, nil
		},
		func(p Provider, cfg *config.Config, logger *slog.Logger) EventDispatcher {
			return NewEventDispatcher(p.Publisher(), cfg.Events.Subscribe, logger)
		},
		fx.Annotate(
			func(d EventDispatcher) EventDispatcher { return d },
			fx.As(new(service.Processor)),
		),
	),
)
