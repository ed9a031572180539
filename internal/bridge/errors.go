package bridge

import "errors"

var (
	// ErrInvalidTopic is returned for messages on topics that are not command topics.
	ErrInvalidTopic = errors.New("bridge: not a command topic")

	// ErrInvalidPayload is returned when a command is not a non-empty JSON object.
	ErrInvalidPayload = errors.New("bridge: invalid command payload")

	// ErrUnknownInstallation is returned when a command names another installation.
	ErrUnknownInstallation = errors.New("bridge: unknown installation")
)
