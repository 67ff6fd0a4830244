// Package api exposes the AgentPass HTTP API: passport lifecycle and
// challenge verification, the authentication orchestrator, human
// escalation queues, webhook endpoint management, and screenshot
// retrieval.
//
// All routes are JSON over HTTP and live under /v1. Handlers translate
// domain errors to status codes (404 for unknown records, 403 for
// revoked passports) and never expose private key material.
package api
