package push

import "fmt"

// State is the lifecycle position of a Channel.
type State int

// Channel states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuth
	StateSynchronized
	StateStale
)

// String returns the state name used in logs and the HTTP API.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateSynchronized:
		return "synchronized"
	case StateStale:
		return "stale"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event names as they arrive in the "event" field. Update events carry a
// suffix and are matched by prefix.
const (
	EventAuth             = "auth"
	EventDeviceState      = "DEVICE_STATE"
	EventDeviceStateEnd   = "DEVICE_STATE_END"
	EventDevicesUpdates   = "DEVICES_UPDATES"
	EventWebServerUpdates = "WEBSERVER_UPDATES"
)

// Event labels reported to the observer. They are stable and low
// cardinality, unlike the raw event names.
const (
	LabelAuth             = "auth"
	LabelDeviceState      = "device_state"
	LabelDeviceStateEnd   = "device_state_end"
	LabelDevicesUpdates   = "devices_updates"
	LabelWebServerUpdates = "webserver_updates"
	LabelPing             = "ping"
	LabelUnknown          = "unknown"
	LabelInvalid          = "invalid"
)

// Message keys.
const (
	keyEvent    = "event"
	keyCorrID   = "id"
	keyBody     = "body"
	keyJWT      = "jwt"
	keyDeviceID = "device_id"
	keyWSID     = "ws_id"
)
