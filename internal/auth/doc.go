// Package auth protects the local HTTP API with a shared API key.
//
// Only an Argon2id hash of the key is configured (PHC string format,
// produced by HashKey or `climatesync hash-key`). Clients present the
// plaintext key on every mutating request; Verifier checks it against the
// hash in constant time.
//
// Thread Safety:
//   - HashKey, VerifyKey and GenerateKey are pure functions.
//   - Verifier is safe for concurrent use.
package auth
