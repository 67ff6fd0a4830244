// Package notify provides the notification bus: fan-out of structured
// authentication events to registered webhook endpoints and to in-process
// subscribers (the owner-facing escalation/decision surface).
//
// # Overview
//
// Delivery is fire-and-forget: each dispatch spawns a panic-recovering
// task, failures are logged and retried in the background, and a slow or
// broken endpoint can never block the authentication critical path.
// Payloads are signed with HMAC-SHA256 when the endpoint has a secret.
//
// # Events
//
// agent.registered, agent.logged_in, agent.login_failed,
// agent.credential_stored, agent.captcha_escalated, agent.error_reported,
// escalation.resolved, error.decided, passport.created, passport.revoked
//
// # Usage Example
//
// Register an endpoint and publish an event:
//
//	bus := notify.NewBus(logger)
//	bus.Register(&notify.Endpoint{
//		URL:    "https://owner.example.com/hooks",
//		Events: []notify.EventType{notify.EventCaptchaEscalated},
//		Secret: "hook-secret",
//	})
//	bus.Publish(ctx, notify.EventCaptchaEscalated, map[string]interface{}{
//		"escalation_id": id,
//		"solve_url":     solveURL,
//	})
//
// # Related Packages
//
//   - pkg/async: panic-safe task spawning used for delivery
//   - pkg/escalation: ledgers that publish through this bus
package notify
