package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-climate/internal/climate"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultAliveWindow      = 45 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	wsPath         = "api/v1/websockets/installation"
	controlTimeout = 5 * time.Second
)

// Logger is the logging interface used by the channel.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Resolver finds the entities that push events refer to.
type Resolver interface {
	DeviceByID(id string) (climate.Device, bool)
	WebServerByID(id string) (*climate.WebServer, bool)
}

// Options configures a Channel.
type Options struct {
	// BaseURL is the websocket root, e.g. wss://m.airzonecloud.com.
	BaseURL        string
	InstallationID string

	// Token returns the current access token. It is read on every dial
	// and every auth challenge so refreshed tokens are picked up.
	Token func() string

	Resolver Resolver

	// AliveWindow is how long the channel counts as alive after the last
	// received frame. Zero means DefaultAliveWindow.
	AliveWindow time.Duration

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer

	Logger Logger

	// OnChange is called after an incremental update has been applied.
	OnChange func(climate.Entity)

	// OnEvent is called once per received message with its label.
	OnEvent func(label string)
}

// Channel is the push connection for one installation.
//
// The receive loop decodes events and applies them to entities found
// through the Resolver. The channel does not reconnect by itself; the
// caller checks Alive and calls Reconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Only the receive loop writes to the connection, except control
//     frames which gorilla/websocket allows from any goroutine.
type Channel struct {
	opts   Options
	logger Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	done      chan struct{}
	synced    chan struct{}
	aliveAt   time.Time
	devices   map[string]map[string]any
	lastError error
}

// New creates a disconnected Channel.
func New(opts Options) *Channel {
	if opts.AliveWindow <= 0 {
		opts.AliveWindow = DefaultAliveWindow
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Channel{
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		devices: make(map[string]map[string]any),
		synced:  make(chan struct{}),
	}
}

// InstallationID returns the installation the channel serves.
func (c *Channel) InstallationID() string { return c.opts.InstallationID }

// URL returns the websocket endpoint for the installation.
func (c *Channel) URL() string {
	q := url.Values{"installation_id": {c.opts.InstallationID}}
	return strings.TrimRight(c.opts.BaseURL, "/") + "/" + wsPath + "?" + q.Encode()
}

// Connect starts the receive loop. It is a no-op while the loop runs.
//
// The loop is detached from ctx cancellation; use Disconnect to stop it.
// Connect returns once the loop has started, not once it is connected.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running() {
		return
	}

	c.resetLocked()
	c.state = StateConnecting
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, c.done, c.synced)
}

// running reports whether the receive loop is active. Caller holds mu.
func (c *Channel) running() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// resetLocked clears the cached snapshots and liveness. Caller holds mu.
func (c *Channel) resetLocked() {
	c.logger.Debug("push state init", "installation_id", c.opts.InstallationID)
	clear(c.devices)
	c.aliveAt = time.Time{}
	c.lastError = nil
	select {
	case <-c.synced:
		c.synced = make(chan struct{})
	default:
	}
}

// Disconnect stops the receive loop and waits for it to exit.
// Calling it on a stopped channel is harmless.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.aliveAt = time.Time{}
	select {
	case <-c.synced:
		c.synced = make(chan struct{})
	default:
	}
	c.mu.Unlock()
}

// Reconnect restarts the receive loop.
func (c *Channel) Reconnect(ctx context.Context) {
	c.logger.Warn("push channel reconnecting", "installation_id", c.opts.InstallationID)
	c.Disconnect()
	c.Connect(ctx)
}

// WaitSynchronized blocks until the initial device snapshot has been
// received, the loop exits, or ctx is done. A stopped loop always yields
// ErrClosed, even after it had synchronized.
func (c *Channel) WaitSynchronized(ctx context.Context) error {
	c.mu.Lock()
	synced, done := c.synced, c.done
	c.mu.Unlock()

	if done == nil {
		return ErrClosed
	}
	select {
	case <-synced:
		select {
		case <-done:
			return c.closedError()
		default:
			return nil
		}
	case <-done:
		return c.closedError()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotSynchronized, ctx.Err())
	}
}

func (c *Channel) closedError() error {
	if err := c.LastError(); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return ErrClosed
}

// Connected reports whether the receive loop is running.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running()
}

// Alive reports whether the receive loop is running and a frame was
// received within the alive window.
func (c *Channel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running() && c.aliveLocked()
}

func (c *Channel) aliveLocked() bool {
	return !c.aliveAt.IsZero() && c.now().Sub(c.aliveAt) <= c.opts.AliveWindow
}

// State returns the lifecycle state. A synchronized channel that has
// gone quiet for longer than the alive window reports StateStale.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSynchronized && !c.aliveLocked() {
		return StateStale
	}
	return c.state
}

// LastError returns the error that ended the last receive loop, if any.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// DeviceData returns the last full snapshot received for a device.
func (c *Channel) DeviceData(id string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.devices[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(body), true
}

// Snapshot returns every cached device snapshot keyed by device id.
func (c *Channel) Snapshot() map[string]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]any, len(c.devices))
	for id, body := range c.devices {
		out[id] = maps.Clone(body)
	}
	return out
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) setAlive() {
	c.mu.Lock()
	c.aliveAt = c.now()
	c.mu.Unlock()
}

func (c *Channel) observe(label string) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(label)
	}
}

// run dials and reads until ctx is cancelled or the connection fails.
func (c *Channel) run(ctx context.Context, done, synced chan struct{}) {
	defer close(done)

	err := c.session(ctx, synced)
	c.mu.Lock()
	c.state = StateDisconnected
	c.aliveAt = time.Time{}
	if c.synced == synced {
		select {
		case <-synced:
			c.synced = make(chan struct{})
		default:
		}
	}
	if err != nil && ctx.Err() == nil {
		c.lastError = err
	}
	c.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		c.logger.Warn("push channel closed", "installation_id", c.opts.InstallationID, "error", err)
	} else {
		c.logger.Debug("push channel stopped", "installation_id", c.opts.InstallationID)
	}
}

func (c *Channel) session(ctx context.Context, synced chan struct{}) error {
	dialer := c.opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = DefaultHandshakeTimeout
		dialer = &d
	}

	header := http.Header{}
	if tok := c.opts.Token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDial, err)
	}
	defer conn.Close()

	c.setState(StateAwaitingAuth)
	c.logger.Info("push channel connected", "installation_id", c.opts.InstallationID)

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetPingHandler(func(data string) error {
		c.setAlive()
		c.observe(LabelPing)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("push channel closed by server", "installation_id", c.opts.InstallationID)
				return nil
			}
			return fmt.Errorf("reading push message: %w", err)
		}
		if msgType != websocket.TextMessage {
			c.logger.Warn("unexpected push frame", "installation_id", c.opts.InstallationID, "type", msgType)
			continue
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			c.observe(LabelInvalid)
			c.logger.Error("invalid push message", "installation_id", c.opts.InstallationID, "error", err)
			continue
		}
		c.setAlive()
		if err := c.handle(conn, msg, synced); err != nil {
			return err
		}
	}
}

// handle dispatches one decoded message. Only write failures end the loop.
func (c *Channel) handle(conn *websocket.Conn, msg map[string]any, synced chan struct{}) error {
	event, _ := msg[keyEvent].(string)

	switch {
	case event == EventAuth:
		c.observe(LabelAuth)
		return c.handleAuth(conn, msg)
	case event == EventDeviceStateEnd:
		c.observe(LabelDeviceStateEnd)
		c.handleStateEnd(msg, synced)
	case event == EventDeviceState:
		c.observe(LabelDeviceState)
		c.handleDeviceState(msg)
	case strings.HasPrefix(event, EventDevicesUpdates):
		c.observe(LabelDevicesUpdates)
		c.handleDevicesUpdate(msg)
	case strings.HasPrefix(event, EventWebServerUpdates):
		c.observe(LabelWebServerUpdates)
		c.handleWebServerUpdate(msg)
	default:
		c.observe(LabelUnknown)
		c.logger.Warn("unhandled push event", "installation_id", c.opts.InstallationID, "event", event)
	}
	return nil
}

func (c *Channel) handleAuth(conn *websocket.Conn, msg map[string]any) error {
	corrID, ok := msg[keyCorrID]
	if !ok || corrID == nil {
		c.logger.Error("push auth challenge without id", "installation_id", c.opts.InstallationID)
		return nil
	}
	body := map[string]any{}
	if tok := c.opts.Token(); tok != "" {
		body[keyJWT] = tok
	}
	c.logger.Debug("push auth", "installation_id", c.opts.InstallationID, "id", corrID)
	if err := conn.WriteJSON(map[string]any{keyCorrID: corrID, keyBody: body}); err != nil {
		return fmt.Errorf("writing auth reply: %w", err)
	}
	return nil
}

func (c *Channel) handleStateEnd(msg map[string]any, synced chan struct{}) {
	body, _ := msg[keyBody].(string)
	if body != c.opts.InstallationID {
		c.logger.Error("push state end for another installation", "installation_id", c.opts.InstallationID, "body", body)
		return
	}
	c.mu.Lock()
	c.state = StateSynchronized
	select {
	case <-synced:
	default:
		close(synced)
	}
	c.mu.Unlock()
	c.logger.Debug("push channel synchronized", "installation_id", c.opts.InstallationID)
}

func (c *Channel) handleDeviceState(msg map[string]any) {
	body, _ := msg[keyBody].(map[string]any)
	devID, _ := body[keyDeviceID].(string)
	dev, ok := c.device(devID)
	if !ok {
		c.logger.Debug("push state for unknown device", "device_id", devID)
		return
	}
	c.mu.Lock()
	c.devices[dev.ID()] = body
	c.mu.Unlock()
	dev.Apply(climate.NewUpdate(climate.OriginPushFull, body))
}

func (c *Channel) handleDevicesUpdate(msg map[string]any) {
	body, _ := msg[keyBody].(map[string]any)
	devID, _ := body[keyDeviceID].(string)
	dev, ok := c.device(devID)
	if !ok {
		c.logger.Debug("push update for unknown device", "device_id", devID)
		return
	}
	if dev.Apply(climate.NewUpdate(climate.OriginPushPartial, body)) {
		c.changed(dev)
	}
}

func (c *Channel) handleWebServerUpdate(msg map[string]any) {
	body, _ := msg[keyBody].(map[string]any)
	wsID, _ := body[keyWSID].(string)
	if c.opts.Resolver == nil || wsID == "" {
		return
	}
	ws, ok := c.opts.Resolver.WebServerByID(wsID)
	if !ok {
		c.logger.Debug("push update for unknown web server", "ws_id", wsID)
		return
	}
	if ws.Apply(climate.NewUpdate(climate.OriginPushPartial, body)) {
		c.changed(ws)
	}
}

func (c *Channel) device(id string) (climate.Device, bool) {
	if c.opts.Resolver == nil || id == "" {
		return nil, false
	}
	return c.opts.Resolver.DeviceByID(id)
}

func (c *Channel) changed(e climate.Entity) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(e)
	}
}
