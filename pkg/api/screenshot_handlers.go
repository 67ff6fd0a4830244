package api

import (
	"errors"
	"net/http"

	"github.com/agentpass/agentpass/pkg/httputil"
	"github.com/agentpass/agentpass/pkg/screenshots"
)

// getScreenshot handles GET /v1/screenshots/{ref}. Captures are PNG
// encoded by the browser sidecar.
func (s *Server) getScreenshot(w http.ResponseWriter, r *http.Request) {
	if s.shots == nil {
		httputil.WriteNotFoundError(w, "screenshot not found")
		return
	}

	ref := httputil.GetPathVars(r)["ref"]
	data, err := s.shots.Get(r.Context(), ref)
	if err != nil {
		switch {
		case errors.Is(err, screenshots.ErrNotFound):
			httputil.WriteNotFoundError(w, "screenshot not found")
		case errors.Is(err, screenshots.ErrInvalidRef):
			httputil.WriteBadRequest(w, "invalid screenshot ref")
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
