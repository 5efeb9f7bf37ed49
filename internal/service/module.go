package service

import (
	"context"
	"log/slog"

	"github.com/webitel/kook-mirror-service/config"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		NewScope,
		func() *Identity { return new(Identity) },
		func(api RemoteAPI, lane registry.Writer, scope *Scope, cfg *config.Config, logger *slog.Logger) *Hydrator {
			return NewHydrator(api, lane, scope, cfg.Sync.BatchDelay, logger)
		},
		func(api RemoteAPI, lane registry.Writer, scope *Scope, cfg *config.Config, logger *slog.Logger) *Reconciler {
			return NewReconciler(api, lane, scope, cfg.Sync.Period, cfg.Sync.BatchDelay, logger)
		},
		func(p Processor, cfg *config.Config, logger *slog.Logger) *Emitter {
			return NewEmitter(p, cfg.Events.Async, logger)
		},
		func(
			store registry.Reader,
			lane registry.Writer,
			hydrator *Hydrator,
			emitter *Emitter,
			api RemoteAPI,
			self *Identity,
			cfg *config.Config,
			logger *slog.Logger,
		) *Applier {
			return NewApplier(store, lane, hydrator, emitter, api, self, cfg.Events.DedupSize, logger)
		},
		NewMuter,
		NewMirror,
	),

	// [DECORATION_LAYER] Intercept RemoteAPI to add cross-cutting concerns
	fx.Decorate(func(orig RemoteAPI, logger *slog.Logger) RemoteAPI {
		return NewRemoteMiddleware(orig, logger)
	}),

	fx.Invoke(func(lc fx.Lifecycle, m *Mirror) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error { return m.Start(ctx) },
			OnStop:  func(ctx context.Context) error { return m.Stop(ctx) },
		})
	}),
)
