package mqtt

import "fmt"

// MessageHandler processes one received message. Handlers run on paho's
// goroutines; a returned error or a panic is logged and the message is
// still acknowledged.
type MessageHandler func(topic string, payload []byte) error

// Subscribe registers handler for topic, which may contain + and #
// wildcards. The subscription is replayed after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, topic)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	tok := c.client.Subscribe(topic, qos, c.dispatch(handler))
	err := fmt.Errorf("no ack after %v", opTimeout)
	if tok.WaitTimeout(opTimeout) {
		err = tok.Error()
	}
	if err != nil {
		c.subMu.Lock()
		delete(c.subs, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// resubscribe replays every tracked subscription. Failures are logged;
// the next reconnect tries again.
func (c *Client) resubscribe() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for topic, sub := range c.subs {
		tok := c.client.Subscribe(topic, sub.qos, c.dispatch(sub.handler))
		go func() {
			if tok.WaitTimeout(opTimeout) && tok.Error() != nil {
				c.log().Warn("MQTT resubscribe failed", "topic", topic, "error", tok.Error())
			}
		}()
	}
}
