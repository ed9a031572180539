package climate

import "errors"

// Domain errors for the climate package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, climate.ErrUnknownKind) {
//	    // skip the device
//	}
var (
	// ErrUnknownKind is returned when a cloud device type has no matching kind.
	ErrUnknownKind = errors.New("climate: unknown device kind")

	// ErrMissingField is returned when a constructor payload lacks a required key.
	ErrMissingField = errors.New("climate: missing required field")

	// ErrUnsupportedParam is returned when a device does not accept a parameter.
	ErrUnsupportedParam = errors.New("climate: unsupported parameter")

	// ErrInvalidValue is returned when a parameter value has the wrong type.
	ErrInvalidValue = errors.New("climate: invalid parameter value")

	// ErrModeUnavailable is returned when a mode is not in the device's mode list.
	ErrModeUnavailable = errors.New("climate: mode not available")
)
