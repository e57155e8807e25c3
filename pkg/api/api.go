// Package api exposes the provisioning service over HTTP. Handlers are
// constructed individually and registered into a method-aware mux, so
// callers can layer authentication or other middleware at registration.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alexedwards/flow"
	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/engine"
	"github.com/enrolld/enrolld/pkg/history"
	"github.com/enrolld/enrolld/pkg/service"
)

// Mux can register HTTP handlers. It matches the flow router's surface.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

type errorResponse struct {
	Error string `json:"error"`
}

// jsonError writes err as a JSON error body. A zero status maps to 500.
func jsonError(w http.ResponseWriter, err error, status int) {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// StartHandler creates a handler that submits a provisioning request.
func StartHandler(svc *service.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req engine.ProvisioningRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Info().Err(err).Msg("Malformed provisioning request")
			jsonError(w, err, http.StatusBadRequest)
			return
		}

		res, err := svc.Start(r.Context(), &req)
		switch {
		case errors.Is(err, service.ErrRunInProgress):
			jsonError(w, err, http.StatusConflict)
			return
		case err != nil:
			logger.Info().Err(err).Msg("Provisioning request rejected")
			jsonError(w, err, http.StatusBadRequest)
			return
		}

		writeJSON(w, logger, res)
	}
}

// CancelHandler creates a handler that cancels the active run or pending
// reminder.
func CancelHandler(svc *service.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.Cancel(r.Context())
		switch {
		case errors.Is(err, service.ErrNoRun):
			jsonError(w, err, http.StatusConflict)
			return
		case err != nil:
			logger.Error().Err(err).Msg("Cancel failed")
			jsonError(w, err, 0)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ResumeHandler creates a handler that triggers the resume check. The
// check runs asynchronously on the dispatcher and is a no-op after the
// first attempt in this process.
func ResumeHandler(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Resume(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}
}

// StatusHandler creates a handler that reports the service status.
func StatusHandler(svc *service.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, svc.Status())
	}
}

// ListRunsHandler creates a handler that lists run history.
func ListRunsHandler(store history.Store, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		runs, err := store.ListRuns(r.Context(), limit, offset)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to list runs")
			jsonError(w, err, 0)
			return
		}
		writeJSON(w, logger, runs)
	}
}

type runDetail struct {
	Run    *history.Run         `json:"run"`
	Events []*history.TaskEvent `json:"events"`
}

// GetRunHandler creates a handler that returns one run with its task
// events.
func GetRunHandler(store history.Store, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")

		run, err := store.GetRun(r.Context(), id)
		if err != nil {
			jsonError(w, err, http.StatusNotFound)
			return
		}
		events, err := store.ListTaskEvents(r.Context(), id)
		if err != nil {
			logger.Error().Err(err).Str("run_id", id).Msg("Failed to list task events")
			jsonError(w, err, 0)
			return
		}
		writeJSON(w, logger, runDetail{Run: run, Events: events})
	}
}

// HealthHandler creates a liveness handler. The store check is skipped
// when store is nil.
func HealthHandler(store history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.HealthCheck(r.Context()); err != nil {
				jsonError(w, err, http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
