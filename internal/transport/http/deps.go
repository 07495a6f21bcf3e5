package http

import (
	"net/http"

	"github.com/concert-notifier/internal/application/registration"
)

// Deps holds what the ops router serves.
type Deps struct {
	Registration registration.Service
	// Metrics serves /metrics; nil leaves the route out.
	Metrics http.Handler
	// RegisterRatePerSecond and RegisterBurst bound endpoint registration per client IP.
	RegisterRatePerSecond float64
	RegisterBurst         int
}
