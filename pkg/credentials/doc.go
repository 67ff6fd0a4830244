// Package credentials provides per-service credential access scoped over
// the vault, keyed by (passport, service), along with strong random
// password generation for fallback registration.
//
// Service identifiers are always normalized to a bare hostname before use
// as a storage key, so "https://github.com/login" and "github.com" map to
// the same credential.
package credentials
