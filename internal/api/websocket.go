package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// Channel name prefixes. A client receives an entity's state on
// "state.changed", on "state.<type>" for the entity type (zone, group,
// webserver...) and on "entity.<id>".
const (
	channelStatePrefix  = "state."
	channelEntityPrefix = "entity."
)

// viewTypes are the EntityView types a state.<type> channel may name.
var viewTypes = []string{
	"zone", "system", "aidoo", "hot-water", "air-quality", "output",
	"group", "installation", "webserver",
}

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// ChannelForType returns the channel carrying every entity of the
// given view type.
func ChannelForType(viewType string) string {
	return channelStatePrefix + viewType
}

// ChannelForEntity returns the channel carrying a single entity.
func ChannelForEntity(id string) string {
	return channelEntityPrefix + id
}

// validChannel reports whether name is a channel the hub routes.
func validChannel(name string) bool {
	if name == ChannelStateChanged {
		return true
	}
	if t, ok := strings.CutPrefix(name, channelStatePrefix); ok {
		return slices.Contains(viewTypes, t)
	}
	id, ok := strings.CutPrefix(name, channelEntityPrefix)
	return ok && id != ""
}

// channelsFor lists the channels v is delivered on, broadest first.
func channelsFor(v EntityView) []string {
	return []string{ChannelStateChanged, ChannelForType(v.Type), ChannelForEntity(v.ID)}
}

// Hub manages WebSocket connections and routes entity state to the
// clients subscribed to a matching channel.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	// snapshot lists the current entities; subscribe replies carry the
	// ones matching the new channels. Nil disables snapshots.
	snapshot func() []EntityView
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

// upgrader accepts any origin; the API is meant for the local network.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a new WebSocket hub.
// Zero ping and pong intervals fall back to 30 and 10 seconds.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// SetSnapshot sets the source of the entity list sent on subscribe.
func (h *Hub) SetSnapshot(fn func() []EntityView) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes the
// send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// BroadcastState delivers v to every client subscribed to one of its
// channels. A client subscribed to several matching channels receives
// the event once, tagged with the broadest of them.
//
// Lock ordering: the hub lock is released before per-client
// subscription checks.
func (h *Hub) BroadcastState(v EntityView) {
	channels := channelsFor(v)
	encoded := make(map[string][]byte, len(channels))

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		ch, ok := client.match(channels)
		if !ok {
			continue
		}
		data, ok := encoded[ch]
		if !ok {
			var err error
			data, err = eventMessage(ch, v)
			if err != nil {
				h.logger.Error("failed to marshal state event", "entity", v.ID, "error", err)
				return
			}
			encoded[ch] = data
		}
		client.trySend(data)
		sent++
	}
	if sent > 0 {
		h.logger.Debug("state broadcast", "entity", v.ID, "type", v.Type, "recipients", sent)
	}
}

func eventMessage(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// snapshotFor returns the current views matching any of channels.
func (h *Hub) snapshotFor(channels []string) []EntityView {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	out := []EntityView{}
	for _, v := range fn() {
		for _, ch := range channelsFor(v) {
			if slices.Contains(channels, ch) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

// handleWebSocket upgrades the connection and registers the client.
// Valid channels listed in the comma-separated "channels" query
// parameter are subscribed immediately; unknown names are ignored.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
		ch = strings.TrimSpace(ch)
		if validChannel(ch) {
			client.subscriptions[ch] = struct{}{}
		} else if ch != "" {
			s.logger.Debug("websocket channel ignored", "channel", ch)
		}
	}

	s.hub.Register(client)

	go client.writePump(s.hub.cfg)
	go client.readPump(s.hub.cfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe validates the requested channels and adds them. The
// reply lists the channels and, when the hub has a snapshot source, the
// current state of every matching entity.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, ok := c.parseChannels(msg)
	if !ok {
		return
	}
	for _, ch := range channels {
		if !validChannel(ch) {
			c.sendError(msg.ID, fmt.Sprintf("unknown channel: %q", ch))
			return
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", channels)

	reply := map[string]any{"subscribed": channels}
	if snap := c.hub.snapshotFor(channels); snap != nil {
		reply["snapshot"] = snap
	}
	c.sendResponse(msg.ID, WSTypeResponse, reply)
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, ok := c.parseChannels(msg)
	if !ok {
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

// parseChannels decodes the channel list of a subscribe or unsubscribe
// message, replying with an error when it is missing or malformed.
func (c *WSClient) parseChannels(msg WSMessage) ([]string, bool) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil || len(sub.Channels) == 0 {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return nil, false
	}
	return sub.Channels, true
}

// trySend queues data for the client, dropping it when the buffer is
// full or the client has already gone.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// match returns the first of channels the client is subscribed to.
func (c *WSClient) match(channels []string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range channels {
		if _, ok := c.subscriptions[ch]; ok {
			return ch, true
		}
	}
	return "", false
}

// sendResponse sends a response message to the client through trySend.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
