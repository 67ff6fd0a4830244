// Package identity provides Ed25519 key material, passport records, and the
// challenge-response protocol used to authenticate agents.
//
// # Overview
//
// Every agent holds a passport: a durable identity record whose id is
// "ap_" followed by 12 lowercase hex characters, paired with an Ed25519
// key pair. Services authenticate an agent by issuing a random challenge
// and verifying the agent's signature over it.
//
// # Usage Example
//
// Generate a key pair and verify a challenge:
//
//	kp, _ := identity.GenerateKeyPair()
//	challenge, _ := identity.NewChallenge()
//	sig, _ := identity.SignChallenge(challenge, kp.PrivateKey)
//	ok := identity.VerifyChallenge(challenge, sig, kp.PublicKey)
//
// Verification never panics: malformed input of any kind yields false.
//
// # Related Packages
//
//   - pkg/vault: encrypted at-rest storage for private keys
//   - pkg/registry: passport lifecycle built on top of this package
package identity
