package ws

import (
	"github.com/go-chi/chi/v5"
	"github.com/webitel/kook-mirror-service/config"
	httpsrv "github.com/webitel/kook-mirror-service/infra/server/http"
	"go.uber.org/fx"
)

var Module = fx.Module("ws-handler",
	fx.Provide(NewWatchHandler),
	fx.Invoke(func(s *httpsrv.Server, h *WatchHandler, cfg *config.Config) {
		s.Router.Group(func(r chi.Router) {
			r.Use(httpsrv.NewBearerAuth(cfg.HTTP.Token))
			r.Method("GET", "/v1/watch", h)
		})
	}),
)
