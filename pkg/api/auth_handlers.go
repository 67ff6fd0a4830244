package api

import (
	"errors"
	"net/http"

	"github.com/agentpass/agentpass/pkg/httputil"
	"github.com/agentpass/agentpass/pkg/identity"
	"github.com/agentpass/agentpass/pkg/vault"
)

type authRequest struct {
	PassportID string `json:"passport_id"`
	Service    string `json:"service"`
}

// authenticate handles POST /v1/auth. The response is always 200 with
// the orchestrator's result; failed attempts are an outcome, not an
// HTTP error.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !identity.ValidPassportID(req.PassportID) {
		httputil.WriteBadRequest(w, "invalid passport id")
		return
	}
	if !httputil.RequireNonEmpty(w, req.Service, "service") {
		return
	}

	result, err := s.orch.Authenticate(r.Context(), req.PassportID, req.Service)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// authStatus handles GET /v1/auth/status
func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	passportID := httputil.ParseQueryString(r, "passport_id", "")
	service := httputil.ParseQueryString(r, "service", "")
	if !identity.ValidPassportID(passportID) {
		httputil.WriteBadRequest(w, "invalid passport id")
		return
	}
	if !httputil.RequireNonEmpty(w, service, "service") {
		return
	}

	status, err := s.orch.CheckAuthStatus(r.Context(), passportID, service)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			httputil.WriteNotFoundError(w, "passport not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, status)
}
