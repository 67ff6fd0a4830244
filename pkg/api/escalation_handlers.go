package api

import (
	"errors"
	"net/http"

	"github.com/agentpass/agentpass/pkg/escalation"
	"github.com/agentpass/agentpass/pkg/httputil"
)

// listEscalations handles GET /v1/escalations with an optional
// passport_id filter
func (s *Server) listEscalations(w http.ResponseWriter, r *http.Request) {
	passportID := httputil.ParseQueryString(r, "passport_id", "")

	all := s.captchas.List()
	if passportID == "" {
		httputil.WriteSuccess(w, all)
		return
	}

	filtered := make([]*escalation.Escalation, 0, len(all))
	for _, esc := range all {
		if esc.PassportID == passportID {
			filtered = append(filtered, esc)
		}
	}
	httputil.WriteSuccess(w, filtered)
}

// getEscalation handles GET /v1/escalations/{id}
func (s *Server) getEscalation(w http.ResponseWriter, r *http.Request) {
	id := httputil.GetPathVars(r)["id"]

	esc, err := s.captchas.CheckResolution(id)
	if err != nil {
		if errors.Is(err, escalation.ErrEscalationNotFound) {
			httputil.WriteNotFoundError(w, "escalation not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, esc)
}

// resolveEscalation handles POST /v1/escalations/{id}/resolve
func (s *Server) resolveEscalation(w http.ResponseWriter, r *http.Request) {
	id := httputil.GetPathVars(r)["id"]

	esc, err := s.captchas.Resolve(r.Context(), id)
	if err != nil {
		if errors.Is(err, escalation.ErrEscalationNotFound) {
			httputil.WriteNotFoundError(w, "escalation not found")
			return
		}
		if errors.Is(err, escalation.ErrEscalationTimedOut) {
			httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, esc)
}

// listErrors handles GET /v1/errors with an optional passport_id filter
func (s *Server) listErrors(w http.ResponseWriter, r *http.Request) {
	passportID := httputil.ParseQueryString(r, "passport_id", "")

	all := s.errs.List()
	if passportID == "" {
		httputil.WriteSuccess(w, all)
		return
	}

	filtered := make([]*escalation.ErrorRecord, 0, len(all))
	for _, rec := range all {
		if rec.PassportID == passportID {
			filtered = append(filtered, rec)
		}
	}
	httputil.WriteSuccess(w, filtered)
}

// getError handles GET /v1/errors/{id}
func (s *Server) getError(w http.ResponseWriter, r *http.Request) {
	id := httputil.GetPathVars(r)["id"]

	rec, err := s.errs.Get(id)
	if err != nil {
		if errors.Is(err, escalation.ErrRecordNotFound) {
			httputil.WriteNotFoundError(w, "error record not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, rec)
}

type decisionRequest struct {
	Action      escalation.RecoveryAction     `json:"action"`
	Credentials *escalation.ManualCredentials `json:"credentials,omitempty"`
}

// submitDecision handles POST /v1/errors/{id}/decision
func (s *Server) submitDecision(w http.ResponseWriter, r *http.Request) {
	id := httputil.GetPathVars(r)["id"]

	var req decisionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	rec, err := s.errs.SubmitDecision(r.Context(), id, req.Action, req.Credentials)
	if err != nil {
		if errors.Is(err, escalation.ErrRecordNotFound) {
			httputil.WriteNotFoundError(w, "error record not found")
			return
		}
		// Invalid actions, credential mismatches, and duplicate
		// decisions are all caller mistakes.
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, rec)
}
