package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ernie/konsole/internal/domain"
	"github.com/ernie/konsole/internal/manager"
)

// ActionResponse reports the result of a server action. Deferred actions
// run once the manager is ready again; Status is set when the caller waited.
type ActionResponse struct {
	Action   string              `json:"action"`
	OK       bool                `json:"ok"`
	Deferred bool                `json:"deferred,omitempty"`
	Status   domain.ServerStatus `json:"status,omitempty"`
}

func (r *Router) actionFunc(action string) func(context.Context, manager.Caller) error {
	switch action {
	case domain.ActionStart:
		return r.manager.StartServer
	case domain.ActionStop:
		return r.manager.StopServer
	case domain.ActionRestart:
		return r.manager.RestartServer
	}
	return nil
}

// handleServerAction runs a start, stop or restart. With ?wait=<duration>
// the response is held until the server settles or the wait runs out.
func (r *Router) handleServerAction(action string) http.HandlerFunc {
	run := r.actionFunc(action)
	return func(w http.ResponseWriter, req *http.Request) {
		wait, err := parseWait(req, r.waitLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		by := caller(req)

		if !r.manager.Ready() {
			r.manager.WhenReady(func(ctx context.Context) {
				if err := run(ctx, by); err != nil {
					r.logger.Warn("deferred action failed", "action", action, "by", by.Name, "err", err)
				}
			})
			writeJSON(w, http.StatusAccepted, ActionResponse{Action: action, OK: true, Deferred: true})
			return
		}

		if err := run(req.Context(), by); err != nil {
			r.writeManagerError(w, err)
			return
		}
		if wait == 0 {
			writeJSON(w, http.StatusOK, ActionResponse{Action: action, OK: true})
			return
		}

		status, err := r.manager.WaitForOutcome(req.Context(), action, wait)
		if err != nil {
			r.writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ActionResponse{
			Action: action,
			OK:     status != domain.StatusCrashed,
			Status: status,
		})
	}
}

// MaintenanceRequest is the request body for switching maintenance mode
type MaintenanceRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleSetMaintenance switches maintenance mode (admin only)
func (r *Router) handleSetMaintenance(w http.ResponseWriter, req *http.Request) {
	var body MaintenanceRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := r.manager.SetMaintenance(caller(req), *body.Enabled); err != nil {
		r.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *body.Enabled})
}

// handleListBackups returns the console's backups, newest first
func (r *Router) handleListBackups(w http.ResponseWriter, req *http.Request) {
	list, err := r.manager.ListBackups(req.Context(), caller(req))
	if err != nil {
		r.writeManagerError(w, err)
		return
	}
	if list.Files == nil {
		list.Files = []domain.Backup{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateBackupRequest is the request body for creating a backup. The name is optional.
type CreateBackupRequest struct {
	Name string `json:"name"`
}

// handleCreateBackup creates a backup (admin only)
func (r *Router) handleCreateBackup(w http.ResponseWriter, req *http.Request) {
	var body CreateBackupRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.manager.CreateBackup(req.Context(), caller(req), body.Name); err != nil {
		r.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "backup created", "name": body.Name})
}

// handleDeleteBackup deletes a backup by name (admin only)
func (r *Router) handleDeleteBackup(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if err := r.manager.DeleteBackup(req.Context(), caller(req), name); err != nil {
		r.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "backup deleted"})
}

// handlePruneBackups deletes the oldest backups beyond the limit (admin only)
func (r *Router) handlePruneBackups(w http.ResponseWriter, req *http.Request) {
	deleted, err := r.manager.PruneBackups(req.Context(), caller(req))
	if err != nil {
		r.writeManagerError(w, err)
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"deleted": deleted})
}
