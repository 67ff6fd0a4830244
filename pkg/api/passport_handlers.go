package api

import (
	"errors"
	"net/http"

	"github.com/agentpass/agentpass/pkg/httputil"
	"github.com/agentpass/agentpass/pkg/identity"
	"github.com/agentpass/agentpass/pkg/registry"
)

// createPassport handles POST /v1/passports
func (s *Server) createPassport(w http.ResponseWriter, r *http.Request) {
	var req registry.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.OwnerEmail, "owner_email") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	passport, err := s.registry.CreatePassport(r.Context(), req)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, passport)
}

// listPassports handles GET /v1/passports
func (s *Server) listPassports(w http.ResponseWriter, r *http.Request) {
	passports, err := s.registry.ListPassports(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, passports)
}

// getPassport handles GET /v1/passports/{id}
func (s *Server) getPassport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.passportID(w, r)
	if !ok {
		return
	}

	passport, err := s.registry.GetPassport(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	httputil.WriteSuccess(w, passport)
}

// revokePassport handles POST /v1/passports/{id}/revoke
func (s *Server) revokePassport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.passportID(w, r)
	if !ok {
		return
	}

	passport, err := s.registry.RevokePassport(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	httputil.WriteSuccess(w, passport)
}

// issueChallenge handles POST /v1/passports/{id}/challenges
func (s *Server) issueChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.passportID(w, r)
	if !ok {
		return
	}

	challenge, err := s.registry.IssueChallenge(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]string{"challenge": challenge})
}

type verifyChallengeRequest struct {
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

// verifyChallenge handles POST /v1/passports/{id}/challenges/verify
func (s *Server) verifyChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.passportID(w, r)
	if !ok {
		return
	}

	var req verifyChallengeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Challenge, "challenge") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Signature, "signature") {
		return
	}

	valid, err := s.registry.VerifyChallenge(r.Context(), id, req.Challenge, req.Signature)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"valid": valid})
}

type signChallengeRequest struct {
	Challenge string `json:"challenge"`
}

// signChallenge handles POST /v1/passports/{id}/challenges/sign
func (s *Server) signChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.passportID(w, r)
	if !ok {
		return
	}

	var req signChallengeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Challenge, "challenge") {
		return
	}

	signature, err := s.registry.SignChallenge(r.Context(), id, req.Challenge)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"signature": signature})
}

// passportID extracts and validates the {id} path parameter
func (s *Server) passportID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := httputil.GetPathVars(r)["id"]
	if !identity.ValidPassportID(id) {
		httputil.WriteBadRequest(w, "invalid passport id")
		return "", false
	}
	return id, true
}

// writeRegistryError maps registry errors to status codes
func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		httputil.WriteNotFoundError(w, "passport not found")
	case errors.Is(err, registry.ErrPassportRevoked):
		httputil.WriteForbidden(w, "passport has been revoked")
	default:
		httputil.WriteInternalError(w, err)
	}
}
