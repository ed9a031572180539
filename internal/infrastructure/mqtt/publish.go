package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps one message at 1 MiB.
const maxPayloadSize = 1 << 20

// Ack status values.
const (
	AckOK    = "ok"
	AckError = "error"
)

// State is the retained payload of a device, group or installation
// state topic.
type State struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	Data      map[string]any `json:"data"`
}

// Ack is the payload of a command acknowledgement.
type Ack struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewAck returns the acknowledgement for a command outcome.
func NewAck(err error) Ack {
	if err != nil {
		return Ack{Status: AckError, Error: err.Error()}
	}
	return Ack{Status: AckOK}
}

// Publish sends payload to topic.
//
// Parameters:
//   - topic: destination, e.g. climate/inst1/device/z1/state
//   - payload: message body, at most 1 MiB
//   - qos: 0, 1 or 2
//   - retained: whether the broker keeps it for late subscribers
//
// Returns:
//   - error: validation failures, ErrNotConnected, or ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	case !c.IsConnected():
		return ErrNotConnected
	}

	tok := c.client.Publish(topic, qos, retained, payload)
	if !tok.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w: %s: no ack after %v", ErrPublishFailed, topic, opTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishState publishes s retained with the configured QoS.
func (c *Client) PublishState(topic string, s State) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: state %s: %w", ErrEncode, s.ID, err)
	}
	return c.Publish(topic, payload, c.qos, true)
}

// PublishAck publishes a non-retained command acknowledgement.
func (c *Client) PublishAck(topic string, a Ack) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: ack: %w", ErrEncode, err)
	}
	return c.Publish(topic, payload, c.qos, false)
}
