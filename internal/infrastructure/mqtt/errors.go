package mqtt

import "errors"

// Sentinel errors returned by the client. Match them with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	ErrInvalidTopic    = errors.New("mqtt: empty topic")
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrEncode is returned when a state or ack payload cannot be encoded.
	ErrEncode = errors.New("mqtt: encoding payload")
)
