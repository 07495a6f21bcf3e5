package http

import (
	"net/http"

	"github.com/concert-notifier/internal/transport/http/handler"
	appmiddleware "github.com/concert-notifier/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds the ops router: health, metrics and device endpoint registration.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.AccessLog)
	r.Use(chimiddleware.Recoverer)

	ratePerSecond, burst := deps.RegisterRatePerSecond, deps.RegisterBurst
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	registerRL := appmiddleware.NewRateLimiter(rate.Limit(ratePerSecond), burst)

	healthH := handler.NewHealthHandler()
	endpointH := handler.NewEndpointHandler(deps.Registration)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		r.Group(func(r chi.Router) {
			r.Use(registerRL.Limit)
			r.Post("/endpoints", endpointH.Register)
			r.Delete("/endpoints", endpointH.Unregister)
		})
	})

	return r
}
