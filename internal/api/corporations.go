package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/corp"
	"github.com/dpleshakov/corpsso/internal/session"
	"github.com/dpleshakov/corpsso/internal/sso"
)

type registerCorporationRequest struct {
	CorporationID   int64  `json:"corporationId"`
	CorporationName string `json:"corporationName"`
	ScopeType       string `json:"scopeType"`
}

type deactivateCorporationResponse struct {
	SessionsEnded int64 `json:"sessionsEnded"`
}

// Handles:
//
//	GET    /api/corporations
//	POST   /api/corporations
//	DELETE /api/corporations/{id}
//	POST   /api/corporations/{id}/activate
//
// A corp_admin only sees and manages their own corporation.
func (r *router) handleListCorporations(w http.ResponseWriter, req *http.Request) {
	u := userFrom(req.Context())
	corps, err := r.registry.List(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list corporations")
		return
	}
	resp := make([]corp.Config, 0, len(corps))
	for _, c := range corps {
		if ownsCorporation(u, c.CorporationID) {
			resp = append(resp, c)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *router) handleRegisterCorporation(w http.ResponseWriter, req *http.Request) {
	var body registerCorporationRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.CorporationID <= 0 || body.CorporationName == "" {
		writeError(w, http.StatusBadRequest, "corporationId and corporationName are required")
		return
	}
	u := userFrom(req.Context())
	if !ownsCorporation(u, body.CorporationID) {
		writeError(w, http.StatusForbidden, "insufficient permissions")
		return
	}
	scopeType, err := sso.ParseScopeType(body.ScopeType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scopes, _ := sso.ScopesFor(scopeType)

	cfg, err := r.registry.Register(req.Context(), body.CorporationID, body.CorporationName, scopes)
	if err != nil {
		r.logger.Error("registering corporation", zap.Int64("corporation_id", body.CorporationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register corporation")
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (r *router) handleDeactivateCorporation(w http.ResponseWriter, req *http.Request) {
	id, ok := r.corporationParam(w, req)
	if !ok {
		return
	}
	ended, err := r.registry.Deactivate(req.Context(), id)
	if errors.Is(err, corp.ErrNotFound) {
		writeError(w, http.StatusNotFound, "corporation not found")
		return
	}
	if err != nil {
		r.logger.Error("deactivating corporation", zap.Int64("corporation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to deactivate corporation")
		return
	}
	writeJSON(w, http.StatusOK, deactivateCorporationResponse{SessionsEnded: ended})
}

func (r *router) handleActivateCorporation(w http.ResponseWriter, req *http.Request) {
	id, ok := r.corporationParam(w, req)
	if !ok {
		return
	}
	err := r.registry.Activate(req.Context(), id)
	if errors.Is(err, corp.ErrNotFound) {
		writeError(w, http.StatusNotFound, "corporation not found")
		return
	}
	if err != nil {
		r.logger.Error("activating corporation", zap.Int64("corporation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to activate corporation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// corporationParam parses {id} and checks the caller may manage it.
func (r *router) corporationParam(w http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := parseID(req, "id")
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid corporation id")
		return 0, false
	}
	if !ownsCorporation(userFrom(req.Context()), id) {
		writeError(w, http.StatusForbidden, "insufficient permissions")
		return 0, false
	}
	return id, true
}

// ownsCorporation reports whether u may act on corporationID: system
// managers act on any corporation, everyone else only on their own.
func ownsCorporation(u session.User, corporationID int64) bool {
	return u.Permissions.ManageSystem || (u.CorporationID != 0 && u.CorporationID == corporationID)
}
