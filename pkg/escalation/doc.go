// Package escalation tracks the situations an agent cannot resolve on its
// own: CAPTCHAs that need a human, and authentication errors waiting for
// an owner decision.
//
// CAPTCHA escalations time out after five minutes; the timeout is applied
// lazily when the escalation is read, so no timers run per escalation.
// Error records never time out. Both ledgers are in-memory and safe for
// concurrent use.
package escalation
