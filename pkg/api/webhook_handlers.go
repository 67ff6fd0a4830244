package api

import (
	"net/http"

	"github.com/agentpass/agentpass/pkg/httputil"
	"github.com/agentpass/agentpass/pkg/notify"
)

type createWebhookRequest struct {
	URL         string             `json:"url"`
	Events      []notify.EventType `json:"events"`
	Secret      string             `json:"secret,omitempty"`
	Description string             `json:"description,omitempty"`
}

// createWebhook handles POST /v1/webhooks
func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		httputil.WriteServiceUnavailable(w, "webhooks are not enabled")
		return
	}

	var req createWebhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ep := &notify.Endpoint{
		URL:         req.URL,
		Events:      req.Events,
		Secret:      req.Secret,
		Description: req.Description,
	}
	if err := s.bus.Register(ep); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteCreated(w, ep)
}

// listWebhooks handles GET /v1/webhooks
func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		httputil.WriteServiceUnavailable(w, "webhooks are not enabled")
		return
	}
	httputil.WriteSuccess(w, s.bus.List())
}

// getWebhook handles GET /v1/webhooks/{id}
func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		httputil.WriteServiceUnavailable(w, "webhooks are not enabled")
		return
	}

	ep, err := s.bus.Get(httputil.GetPathVars(r)["id"])
	if err != nil {
		httputil.WriteNotFoundError(w, "webhook endpoint not found")
		return
	}
	httputil.WriteSuccess(w, ep)
}

// deleteWebhook handles DELETE /v1/webhooks/{id}
func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		httputil.WriteServiceUnavailable(w, "webhooks are not enabled")
		return
	}

	if err := s.bus.Unregister(httputil.GetPathVars(r)["id"]); err != nil {
		httputil.WriteNotFoundError(w, "webhook endpoint not found")
		return
	}
	httputil.WriteNoContent(w)
}

// webhookDeliveries handles GET /v1/webhooks/{id}/deliveries
func (s *Server) webhookDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		httputil.WriteServiceUnavailable(w, "webhooks are not enabled")
		return
	}

	id := httputil.GetPathVars(r)["id"]
	if _, err := s.bus.Get(id); err != nil {
		httputil.WriteNotFoundError(w, "webhook endpoint not found")
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, s.bus.DeliveryLogs(id, limit))
}

// webhookStats handles GET /v1/webhooks/{id}/stats
func (s *Server) webhookStats(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		httputil.WriteServiceUnavailable(w, "webhooks are not enabled")
		return
	}

	id := httputil.GetPathVars(r)["id"]
	if _, err := s.bus.Get(id); err != nil {
		httputil.WriteNotFoundError(w, "webhook endpoint not found")
		return
	}
	httputil.WriteSuccess(w, s.bus.DeliveryStats(id))
}
