// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteNotFoundError(w, "passport not found")
//
// # Request Parsing
//
//	var req authenticateRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	limit := httputil.ParseQueryInt(r, "limit", 50)
//	service := httputil.ParseQueryString(r, "service", "")
package httputil
