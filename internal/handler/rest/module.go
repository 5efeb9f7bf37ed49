package rest

import (
	"github.com/go-chi/chi/v5"
	"github.com/webitel/kook-mirror-service/config"
	httpsrv "github.com/webitel/kook-mirror-service/infra/server/http"
	"github.com/webitel/kook-mirror-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rest-handler",
	fx.Provide(
		func(m *service.Muter) Muter { return m },
		func(r *service.Reconciler) Syncer { return r },
		NewHandler,
	),
	fx.Invoke(func(s *httpsrv.Server, h *Handler, cfg *config.Config) {
		s.Router.Group(func(r chi.Router) {
			r.Use(httpsrv.NewBearerAuth(cfg.HTTP.Token))
			h.Routes(r)
		})
	}),
)
