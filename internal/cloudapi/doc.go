// Package cloudapi is the HTTP transport for the climate cloud REST API.
//
// It knows the endpoint paths, the bearer token header and how failed
// responses map onto errors. It holds no device state.
//
// # Error Mapping
//
//	login endpoint, any failure      -> ErrLogin
//	refresh endpoint, any failure    -> ErrRefresh
//	401                              -> ErrAuth
//	422                              -> ErrValidation (DeviceConfig: empty result)
//	429                              -> ErrRateLimit
//	400 and other non-2xx            -> ErrAPI
//	connection-level failure         -> ErrTransport
//	undecodable body, missing tokens -> ErrProtocol
//
// Non-2xx responses are returned as *StatusError, which unwraps to the
// sentinel above.
//
// # Thread Safety
//
// A Client is safe for concurrent use. SetToken takes effect for requests
// started after it returns; requests already in flight keep the old token.
package cloudapi
