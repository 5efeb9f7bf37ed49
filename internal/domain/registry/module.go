package registry

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(logger *slog.Logger) *MuteTimers {
			return NewMuteTimers(WithLogger(logger))
		},
		func(timers *MuteTimers, logger *slog.Logger) *Store {
			return NewStore(timers, WithLogger(logger))
		},
		func(store *Store, logger *slog.Logger) *Lane {
			return NewLane(store,
				WithLogger(logger),
				WithMailboxSize(1024),
			)
		},
		func(l *Lane) Writer { return l },
		func(s *Store) Reader { return s },
	),
	fx.Invoke(func(lc fx.Lifecycle, l *Lane, t *MuteTimers) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				// [GRACEFUL_SHUTDOWN] Timers first so no callback queues new lane work.
				t.Close()
				l.Close()
				return nil
			},
		})
	}),
)
