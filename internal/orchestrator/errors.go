package orchestrator

import "errors"

// Domain-specific errors for the orchestrator.
var (
	// ErrNoCredentials is returned by Login when no email or password is set.
	ErrNoCredentials = errors.New("orchestrator: no credentials configured")

	// ErrUnknownDevice is returned when a device id is not known.
	ErrUnknownDevice = errors.New("orchestrator: unknown device")

	// ErrUnknownGroup is returned when a group id is not known.
	ErrUnknownGroup = errors.New("orchestrator: unknown group")

	// ErrUnknownInstallation is returned when an installation id is not
	// visible to the account.
	ErrUnknownInstallation = errors.New("orchestrator: unknown installation")

	// ErrNoInstallations is returned when the account has no installations.
	ErrNoInstallations = errors.New("orchestrator: account has no installations")
)
