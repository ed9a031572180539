package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "climate"

// Topics builds the topic hierarchy under a prefix.
//
//	topics := mqtt.Topics{Prefix: "climate"}
//	topics.DeviceState("inst1", "z1")
//	// Returns: "climate/inst1/device/z1/state"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// State Topics
// =============================================================================

// DeviceState returns the retained state topic of one device.
//
// Example: climate/inst1/device/z1/state
func (t Topics) DeviceState(installationID, deviceID string) string {
	return fmt.Sprintf("%s/%s/device/%s/state", t.prefix(), installationID, deviceID)
}

// GroupState returns the retained aggregate state topic of one group.
//
// Example: climate/inst1/group/g1/state
func (t Topics) GroupState(installationID, groupID string) string {
	return fmt.Sprintf("%s/%s/group/%s/state", t.prefix(), installationID, groupID)
}

// InstallationState returns the retained aggregate state topic of an
// installation.
//
// Example: climate/inst1/state
func (t Topics) InstallationState(installationID string) string {
	return fmt.Sprintf("%s/%s/state", t.prefix(), installationID)
}

// =============================================================================
// Command Topics
// =============================================================================

// Commands are published to {prefix}/{installation}/{device|group}/{id}/set
// and acknowledged on the sibling ack topic.

// CommandAck returns the acknowledgement topic for a command topic target.
//
// Example: climate/inst1/device/z1/ack
func (t Topics) CommandAck(kind, installationID, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s/ack", t.prefix(), installationID, kind, id)
}

// =============================================================================
// System Topics
// =============================================================================

// BridgeStatus returns the online/offline status topic carrying the LWT.
//
// Example: climate/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", t.prefix())
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceCommands matches command topics of every device.
//
// Pattern: climate/+/device/+/set
func (t Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/+/device/+/set", t.prefix())
}

// AllGroupCommands matches command topics of every group.
//
// Pattern: climate/+/group/+/set
func (t Topics) AllGroupCommands() string {
	return fmt.Sprintf("%s/+/group/+/set", t.prefix())
}

// CommandTarget splits a command topic into its target kind ("device" or
// "group"), installation and id. ok is false for any other topic.
func (t Topics) CommandTarget(topic string) (kind, installationID, id string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", "", false
	}
	if parts[1] != "device" && parts[1] != "group" {
		return "", "", "", false
	}
	return parts[1], parts[0], parts[2], true
}
