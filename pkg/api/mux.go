package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/history"
	"github.com/enrolld/enrolld/pkg/service"
)

// HandleAPIv1 registers the v1 API handlers into mux. Endpoint paths are
// prepended with prefix. Authentication or any other layered handlers are
// assumed to be layered with mux, possibly at the Handle call.
func HandleAPIv1(prefix string, mux Mux, logger zerolog.Logger, svc *service.Service, store history.Store) {
	mux.Handle(
		prefix+"/provision",
		StartHandler(svc, logger.With().Str("handler", "start provisioning").Logger()),
		"POST",
	)
	mux.Handle(
		prefix+"/provision/cancel",
		CancelHandler(svc, logger.With().Str("handler", "cancel provisioning").Logger()),
		"POST",
	)
	mux.Handle(
		prefix+"/provision/resume",
		ResumeHandler(svc),
		"POST",
	)
	mux.Handle(
		prefix+"/provision/status",
		StatusHandler(svc, logger.With().Str("handler", "provisioning status").Logger()),
		"GET",
	)
	mux.Handle(
		prefix+"/runs",
		ListRunsHandler(store, logger.With().Str("handler", "list runs").Logger()),
		"GET",
	)
	mux.Handle(
		prefix+"/runs/:id",
		GetRunHandler(store, logger.With().Str("handler", "get run").Logger()),
		"GET",
	)
}

// HandleOps registers the operational endpoints: health and, when a
// metrics handler is supplied, the Prometheus scrape endpoint.
func HandleOps(mux Mux, store history.Store, metrics http.Handler) {
	mux.Handle("/healthz", HealthHandler(store), "GET")
	if metrics != nil {
		mux.Handle("/metrics", metrics, "GET")
	}
}
