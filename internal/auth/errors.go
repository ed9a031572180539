package auth

import "errors"

// Sentinel errors for key hash handling.
var (
	// ErrInvalidHash indicates a configured hash that is not a PHC string.
	ErrInvalidHash = errors.New("auth: invalid key hash")

	// ErrUnsupportedAlgorithm indicates a PHC string for an algorithm other
	// than argon2id.
	ErrUnsupportedAlgorithm = errors.New("auth: unsupported hash algorithm")
)
