// Package orchestrator drives synchronisation between the climate cloud
// and the in-memory entities.
//
// It owns the session token, the global request limiter, the registry of
// installations, web servers, devices and groups, and one push channel
// per selected installation.
//
// # Update Cycle
//
//	ensureToken -> (push enabled?)
//	  yes: first cycle polls web servers and device config
//	       reconnect channels that are not alive
//	       wait PushWait for DEVICE_STATE_END
//	       any channel unsynchronized -> poll everything
//	  no:  poll everything
//	auth failure -> login once and retry
//
// # Concurrency
//
// Bulk operations start one goroutine per device and join them; a failed
// device never cancels its siblings. Every request, including login and
// commands, first takes a slot from one semaphore shared by the whole
// orchestrator, so MaxConcurrentRequests caps the total in flight.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Subscribers are
// called from update goroutines and the push receive loop, never while
// an entity lock is held.
package orchestrator
