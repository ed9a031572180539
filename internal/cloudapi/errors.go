package cloudapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain-specific errors for the cloud API client.
var (
	// ErrAuth is returned for 401 responses outside the auth endpoints.
	ErrAuth = errors.New("cloudapi: authentication rejected")

	// ErrLogin is returned when the login endpoint fails or its response
	// lacks the token pair.
	ErrLogin = errors.New("cloudapi: login failed")

	// ErrRefresh is returned when the refresh endpoint fails or its
	// response lacks the token pair.
	ErrRefresh = errors.New("cloudapi: token refresh failed")

	// ErrRateLimit is returned for 429 responses.
	ErrRateLimit = errors.New("cloudapi: too many requests")

	// ErrValidation is returned for 422 responses.
	ErrValidation = errors.New("cloudapi: unprocessable entity")

	// ErrAPI is returned for 400 and any other non-2xx response.
	ErrAPI = errors.New("cloudapi: request rejected")

	// ErrTransport wraps connection-level failures: DNS, TLS, resets, timeouts.
	ErrTransport = errors.New("cloudapi: transport failure")

	// ErrProtocol is returned when a response cannot be decoded.
	ErrProtocol = errors.New("cloudapi: malformed response")
)

// StatusError is a non-2xx response from the cloud.
//
// Unwrap yields the sentinel for the status code, so callers test with
// errors.Is(err, ErrRateLimit) and friends.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %s /%s: %d %s", e.kind, e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.kind }

// classify picks the sentinel for a failed response. Failures on the
// auth endpoints are always login or refresh errors, whatever the code.
func classify(endpoint string, status int) error {
	switch endpoint {
	case EndpointLogin:
		return ErrLogin
	case EndpointRefresh:
		return ErrRefresh
	}
	switch status {
	case http.StatusUnauthorized:
		return ErrAuth
	case http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusTooManyRequests:
		return ErrRateLimit
	}
	return ErrAPI
}

// IsAuthFailure reports whether err calls for a fresh login: a rejected
// token, or a failed login or refresh.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrLogin) || errors.Is(err, ErrRefresh)
}
