package rest

import (
	"net/http"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

type RouterDeps struct {
	Handler *Handler

	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	// request id + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/healthz", d.Handler.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if d.RLEnabled && d.RLLimit > 0 {
			r.Use(httprate.Limit(
				d.RLLimit,
				d.RLWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
		}
		r.Use(ViewerID)
		r.Get("/feed", d.Handler.GetFeed)
	})

	return r
}
