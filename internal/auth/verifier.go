package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
)

// Verifier checks presented API keys against one configured hash.
//
// Argon2id costs 64 MiB and several milliseconds per check, so the digest
// of the last accepted key is remembered and repeat requests with the same
// key skip the derivation.
type Verifier struct {
	p phc

	mu       sync.Mutex
	accepted [sha256.Size]byte
	cached   bool
}

// NewVerifier parses encodedHash.
//
// Returns:
//   - *Verifier: Ready verifier
//   - error: ErrInvalidHash or ErrUnsupportedAlgorithm
func NewVerifier(encodedHash string) (*Verifier, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return nil, err
	}
	return &Verifier{p: p}, nil
}

// Verify reports whether key matches the configured hash. An empty key
// never matches.
func (v *Verifier) Verify(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))

	v.mu.Lock()
	hit := v.cached && subtle.ConstantTimeCompare(v.accepted[:], digest[:]) == 1
	v.mu.Unlock()
	if hit {
		return true
	}

	if !v.p.matches(key) {
		return false
	}
	v.mu.Lock()
	v.accepted = digest
	v.cached = true
	v.mu.Unlock()
	return true
}
