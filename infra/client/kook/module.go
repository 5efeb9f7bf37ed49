package kook

import (
	"context"

	"github.com/webitel/kook-mirror-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"kook_client",

	// [CONSTRUCTOR] Provides the resilient API client
	fx.Provide(New),
	fx.Provide(
		fx.Annotate(
			func(c *Client) *Client { return c },
			fx.As(new(service.RemoteAPI)),
		),
	),

	// [LIFECYCLE] Releases pooled connections on app shutdown
	fx.Invoke(func(lc fx.Lifecycle, client *Client) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
	}),
)
