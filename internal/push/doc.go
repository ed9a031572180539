// Package push maintains the websocket push channel of one installation.
//
// After the handshake the cloud challenges the client with an auth event,
// streams a full DEVICE_STATE snapshot per device and finishes the
// initial sync with DEVICE_STATE_END. Incremental DEVICES_UPDATES and
// WEBSERVER_UPDATES events follow for as long as the connection lives.
//
// # Lifecycle
//
//	Disconnected -> Connecting -> AwaitingAuth -> Synchronized
//	Synchronized -> Stale        (no frame within the alive window)
//	any          -> Disconnected (Disconnect, server close, read error)
//
// The channel never redials on its own. The orchestrator checks Alive
// before each update cycle and calls Reconnect.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Events are applied
// from the receive loop goroutine; entities serialise their own updates.
package push
