package influxdb

import "errors"

var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: server unreachable")
	ErrNotConnected     = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps errors reported by the background batch writer.
	ErrWriteFailed = errors.New("influxdb: batch write failed")

	ErrUnhealthy = errors.New("influxdb: server not healthy")
)
