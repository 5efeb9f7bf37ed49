package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/kook-mirror-service/internal/adapter/pubsub"
	"github.com/webitel/kook-mirror-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("events-handler",
	fx.Provide(
		func(a *service.Applier) Applier { return a },
		NewRawEventHandler,
		NewWatermillRouter,
	),

	fx.Invoke(RegisterHandlers),
)

// RegisterHandlers wires the pipeline and runs the router for the app lifetime.
func RegisterHandlers(lc fx.Lifecycle, router *message.Router, h *RawEventHandler, provider pubsub.Provider) error {
	if err := h.RegisterHandlers(router, provider); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					h.logger.Error("ROUTER_STOPPED", "err", err)
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
	return nil
}
