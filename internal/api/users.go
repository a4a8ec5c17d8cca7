package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/account"
)

// Handles:
//
//	GET    /api/me
//	GET    /api/users[?corporation=ID]
//	DELETE /api/users/{id}
//	POST   /api/sweep   (sends a force-sweep signal to the sweeper via channel)
func (r *router) handleMe(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(req.Context()))
}

func (r *router) handleListUsers(w http.ResponseWriter, req *http.Request) {
	u := userFrom(req.Context())

	corporationID := u.CorporationID
	if u.Permissions.ManageSystem {
		corporationID = 0
		if v := req.URL.Query().Get("corporation"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid corporation id")
				return
			}
			corporationID = id
		}
	} else if corporationID == 0 {
		writeError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	users, err := r.accounts.List(req.Context(), corporationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (r *router) handleDeactivateUser(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	caller := userFrom(ctx)
	id := chi.URLParam(req, "id")
	if id == caller.ID {
		writeError(w, http.StatusBadRequest, "cannot deactivate your own account")
		return
	}

	target, err := r.accounts.Get(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if !ownsCorporation(caller, target.CorporationID) {
		writeError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	if err := r.accounts.Deactivate(ctx, id); err != nil {
		r.logger.Error("deactivating user", zap.String("user_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to deactivate user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *router) handleSweep(w http.ResponseWriter, req *http.Request) {
	if r.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper is not running")
		return
	}
	r.sweeper.ForceSweep()
	w.WriteHeader(http.StatusAccepted)
}
