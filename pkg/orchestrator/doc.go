// Package orchestrator runs the authentication fallback chain for an
// agent against a target service.
//
// The chain tries the cheapest path first: a cached session means zero
// browser work; failing that, stored credentials drive a login; failing
// that, the agent registers a fresh account. Browser failures are
// classified and either retried with backoff, escalated to a human
// (CAPTCHAs), or recorded for an owner decision.
package orchestrator
