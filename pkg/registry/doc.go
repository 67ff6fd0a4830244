// Package registry manages the passport lifecycle: creation, lookup,
// revocation, and challenge-response verification.
//
// The registry is the only component that reads private keys out of the
// vault, and only to sign challenges inside this process. Callers never
// see key material; they see passports, challenges, and signatures.
package registry
