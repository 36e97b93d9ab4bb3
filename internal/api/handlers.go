package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ernie/konsole/internal/console"
	"github.com/ernie/konsole/internal/manager"
	"github.com/ernie/konsole/internal/tracker"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps manager, tracker and console errors to HTTP statuses
func errorStatus(err error) int {
	var consoleErr *console.Error
	switch {
	case errors.Is(err, manager.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, manager.ErrWrongState):
		return http.StatusConflict
	case errors.Is(err, manager.ErrMaintenance),
		errors.Is(err, manager.ErrNotReady),
		errors.Is(err, manager.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, tracker.ErrUnknownName),
		errors.Is(err, console.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &consoleErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeManagerError writes err with the status it maps to
func (r *Router) writeManagerError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		r.logger.Error("request failed", "status", status, "err", err)
	}
	writeError(w, status, err.Error())
}

// TrackerResponse is the current value of one tracker
type TrackerResponse struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// handleGetStatus returns every tracker's current value
func (r *Router) handleGetStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.manager.Registry().Snapshot())
}

// handleGetTracker returns a single tracker's current value
func (r *Router) handleGetTracker(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	value, err := r.manager.Registry().Status(name)
	if err != nil {
		r.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TrackerResponse{Name: name, Value: value})
}

// handleGetHistory returns recorded tracker transitions, newest first
func (r *Router) handleGetHistory(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("tracker")
	if name != "" {
		if _, err := r.manager.Registry().Status(name); err != nil {
			r.writeManagerError(w, err)
			return
		}
	}

	transitions, err := r.store.GetTransitions(req.Context(), name, parseLimit(req, 50, 500), parseBeforeID(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}

// handleGetActions returns the action audit log, newest first (admin only)
func (r *Router) handleGetActions(w http.ResponseWriter, req *http.Request) {
	actions, err := r.store.GetActions(req.Context(), req.URL.Query().Get("action"), parseLimit(req, 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

// handleHealth returns the service health and the manager status
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"manager": r.manager.Status(),
		"clients": r.StreamCount(),
	})
}
