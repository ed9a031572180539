package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/config"
)

// Logger is the logging interface used by the client.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the broker connection that carries climate state and
// command topics.
//
// On every (re)connect it replays its subscriptions, publishes the
// online bridge status and then calls the OnConnect hook, which is
// where the state bridge republishes its retained snapshot.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Message handlers run on paho goroutines and must not block long.
type Client struct {
	client pahomqtt.Client
	topics Topics
	qos    byte
	id     string

	connected atomic.Bool

	subMu sync.RWMutex
	subs  map[string]subscription

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

// Connect dials the broker described by cfg and waits for the first
// session. The will is registered before dialing so that a crash marks
// the bridge offline.
//
// Parameters:
//   - cfg: validated MQTT configuration
//
// Returns:
//   - *Client: connected client
//   - error: ErrConnectionFailed wrapping the cause
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureWill(opts, c.topics.BridgeStatus(), c.id)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onSession() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("MQTT reconnecting", "broker", brokerURL(cfg))
	})

	c.client = pahomqtt.NewClient(opts)
	tok := c.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: %s: no session after %v", ErrConnectionFailed, brokerURL(cfg), connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The connect handler runs asynchronously; mark the session now so
	// callers can subscribe straight away.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		topics: Topics{Prefix: cfg.TopicPrefix},
		qos:    byte(cfg.QoS), //nolint:gosec // validated 0-2 by config
		id:     cfg.Broker.ClientID,
		subs:   make(map[string]subscription),
	}
}

func (c *Client) onSession() {
	c.connected.Store(true)
	c.resubscribe()
	c.client.Publish(c.topics.BridgeStatus(), c.qos, true, bridgeStatus(c.id, StatusOnline, ""))

	c.hookMu.RLock()
	hook := c.onConnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) onLost(err error) {
	c.connected.Store(false)

	c.hookMu.RLock()
	hook := c.onDisconnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// Close publishes the graceful offline status and disconnects. Calling
// it on a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.client.Publish(c.topics.BridgeStatus(), c.qos, true, bridgeStatus(c.id, StatusOffline, ReasonShutdown))
		tok.WaitTimeout(opTimeout)
	}
	c.client.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether a broker session is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect sets the hook run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect sets the hook run when the session is lost.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.hookMu.Lock()
	c.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets the logger for handler failures and reconnects.
func (c *Client) SetLogger(l Logger) {
	c.hookMu.Lock()
	c.logger = l
	c.hookMu.Unlock()
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) log() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// dispatch adapts handler to paho, logging returned errors and
// recovering panics so one bad command cannot kill the router.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
