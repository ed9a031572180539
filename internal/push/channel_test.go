package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-climate/internal/climate"
)

type mapResolver struct {
	devices    map[string]climate.Device
	webServers map[string]*climate.WebServer
}

func (r mapResolver) DeviceByID(id string) (climate.Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

func (r mapResolver) WebServerByID(id string) (*climate.WebServer, bool) {
	ws, ok := r.webServers[id]
	return ws, ok
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type pushServer struct {
	*httptest.Server
	conns atomic.Int32
}

// newPushServer upgrades every request and hands the connection to script.
func newPushServer(t *testing.T, script func(conn *websocket.Conn, r *http.Request)) *pushServer {
	t.Helper()
	ps := &pushServer{}
	upgrader := websocket.Upgrader{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ps.conns.Add(1)
		script(conn, r)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.URL, "http")
}

// drain reads until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestZone(t *testing.T) *climate.Zone {
	t.Helper()
	z, err := climate.NewZone("inst1", "ws1", map[string]any{
		"device_id": "z1",
		"type":      "az_zone",
		"meta":      map[string]any{"system_number": 1.0, "zone_number": 1.0},
	})
	if err != nil {
		t.Fatalf("NewZone() error = %v", err)
	}
	return z
}

func newTestChannel(t *testing.T, ps *pushServer, opts Options) *Channel {
	t.Helper()
	opts.BaseURL = ps.wsURL()
	if opts.InstallationID == "" {
		opts.InstallationID = "inst1"
	}
	c := New(opts)
	t.Cleanup(c.Disconnect)
	return c
}

func TestChannel_URL(t *testing.T) {
	c := New(Options{BaseURL: "wss://cloud.example.com/", InstallationID: "inst 1"})
	want := "wss://cloud.example.com/api/v1/websockets/installation?installation_id=inst+1"
	if got := c.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
}

func TestChannel_SyncFlow(t *testing.T) {
	type authResult struct {
		header http.Header
		reply  map[string]any
		query  string
		path   string
	}
	results := make(chan authResult, 1)

	ps := newPushServer(t, func(conn *websocket.Conn, r *http.Request) {
		res := authResult{header: r.Header.Clone(), query: r.URL.RawQuery, path: r.URL.Path}
		_ = conn.WriteJSON(map[string]any{"event": "auth", "id": "corr-1"})
		_ = conn.ReadJSON(&res.reply)
		results <- res

		_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE", "body": map[string]any{
			"device_id": "z1",
			"status": map[string]any{
				"power":      true,
				"mode":       3.0,
				"local_temp": map[string]any{"celsius": 21.5},
			},
		}})
		_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE", "body": map[string]any{"device_id": "ghost"}})
		_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE_END", "body": "inst1"})
		_ = conn.WriteJSON(map[string]any{"event": "DEVICES_UPDATES.status", "body": map[string]any{
			"device_id": "z1",
			"change":    map[string]any{"status": map[string]any{"local_temp": map[string]any{"celsius": 22.5}}},
		}})
		_ = conn.WriteJSON(map[string]any{"event": "WEBSERVER_UPDATES.status", "body": map[string]any{
			"ws_id":  "ws1",
			"change": map[string]any{"status": map[string]any{"isConnected": true}},
		}})
		_ = conn.WriteJSON(map[string]any{"event": "SOMETHING_NEW"})
		drain(conn)
	})

	zone := newTestZone(t)
	ws := climate.NewWebServer("inst1", "ws1")
	changes := make(chan string, 4)
	unknown := make(chan struct{}, 1)
	var mu sync.Mutex
	labels := map[string]int{}

	c := newTestChannel(t, ps, Options{
		Token:    func() string { return "jwt-1" },
		Resolver: mapResolver{devices: map[string]climate.Device{"z1": zone}, webServers: map[string]*climate.WebServer{"ws1": ws}},
		OnChange: func(e climate.Entity) { changes <- e.ID() },
		OnEvent: func(label string) {
			mu.Lock()
			labels[label]++
			mu.Unlock()
			if label == LabelUnknown {
				unknown <- struct{}{}
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.Connect(ctx)
	if err := c.WaitSynchronized(ctx); err != nil {
		t.Fatalf("WaitSynchronized() error = %v", err)
	}

	res := <-results
	if res.path != "/api/v1/websockets/installation" || res.query != "installation_id=inst1" {
		t.Errorf("dial target = %s?%s", res.path, res.query)
	}
	if got := res.header.Get("Authorization"); got != "Bearer jwt-1" {
		t.Errorf("Authorization = %q, want Bearer jwt-1", got)
	}
	body, _ := res.reply["body"].(map[string]any)
	if res.reply["id"] != "corr-1" || body["jwt"] != "jwt-1" {
		t.Errorf("auth reply = %v", res.reply)
	}

	if c.State() != StateSynchronized {
		t.Errorf("State() = %v, want synchronized", c.State())
	}
	if !c.Alive() {
		t.Error("Alive() = false after receiving messages")
	}
	if !zone.Initialized() {
		t.Error("zone should be initialized by a full push snapshot")
	}
	if _, ok := c.DeviceData("z1"); !ok {
		t.Error("DeviceData(z1) missing")
	}
	if _, ok := c.DeviceData("ghost"); ok {
		t.Error("snapshots for unknown devices must not be cached")
	}

	got := map[string]bool{}
	for range 2 {
		select {
		case id := <-changes:
			got[id] = true
		case <-ctx.Done():
			t.Fatalf("timed out waiting for change callbacks, got %v", got)
		}
	}
	if !got["z1"] || !got["ws1"] {
		t.Errorf("change callbacks = %v, want z1 and ws1", got)
	}
	if temp := zone.HVACState().Temperature(); temp == nil || *temp != 22.5 {
		t.Errorf("Temperature() = %v, want 22.5", temp)
	}
	if !ws.State().Connected {
		t.Error("web server should be connected after push update")
	}

	select {
	case <-unknown:
	case <-ctx.Done():
		t.Fatal("timed out waiting for the unknown event")
	}

	c.Disconnect()
	if c.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
	c.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	if labels[LabelDeviceState] != 2 || labels[LabelAuth] != 1 || labels[LabelDeviceStateEnd] != 1 {
		t.Errorf("event labels = %v", labels)
	}
	if labels[LabelUnknown] != 1 {
		t.Errorf("unknown events = %d, want 1", labels[LabelUnknown])
	}
}

func TestChannel_StateEndMismatch(t *testing.T) {
	ps := newPushServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE_END", "body": "other"})
		drain(conn)
	})
	c := newTestChannel(t, ps, Options{})

	c.Connect(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := c.WaitSynchronized(ctx)
	if !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("WaitSynchronized() error = %v, want ErrNotSynchronized", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitSynchronized() error = %v, want deadline in chain", err)
	}
	if s := c.State(); s != StateAwaitingAuth {
		t.Errorf("State() = %v, want awaiting_auth", s)
	}
}

func TestChannel_DialFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	c := New(Options{BaseURL: base, InstallationID: "inst1"})
	c.Connect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.WaitSynchronized(ctx)
	if !errors.Is(err, ErrClosed) || !errors.Is(err, ErrDial) {
		t.Fatalf("WaitSynchronized() error = %v, want ErrClosed wrapping ErrDial", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after dial failure")
	}
	if !errors.Is(c.LastError(), ErrDial) {
		t.Errorf("LastError() = %v, want ErrDial", c.LastError())
	}
}

func TestChannel_WaitWithoutConnect(t *testing.T) {
	c := New(Options{InstallationID: "inst1"})
	if err := c.WaitSynchronized(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("WaitSynchronized() error = %v, want ErrClosed", err)
	}
}

func TestChannel_PingKeepsAlive(t *testing.T) {
	pongs := make(chan string, 1)
	ps := newPushServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.SetPongHandler(func(data string) error {
			pongs <- data
			return nil
		})
		_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE_END", "body": "inst1"})
		_ = conn.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second))
		drain(conn)
	})

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newTestChannel(t, ps, Options{AliveWindow: 45 * time.Second})
	c.now = clock.Now

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Connect(ctx)
	if err := c.WaitSynchronized(ctx); err != nil {
		t.Fatalf("WaitSynchronized() error = %v", err)
	}

	select {
	case data := <-pongs:
		if data != "hb" {
			t.Errorf("pong payload = %q, want hb", data)
		}
	case <-ctx.Done():
		t.Fatal("no pong received")
	}

	clock.Advance(45 * time.Second)
	if !c.Alive() {
		t.Error("Alive() = false at the edge of the alive window")
	}
	clock.Advance(time.Second)
	if c.Alive() {
		t.Error("Alive() = true after the alive window")
	}
	if s := c.State(); s != StateStale {
		t.Errorf("State() = %v, want stale", s)
	}
}

func TestChannel_ConnectIsIdempotent(t *testing.T) {
	ps := newPushServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE_END", "body": "inst1"})
		drain(conn)
	})
	c := newTestChannel(t, ps, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.Connect(ctx)
	c.Connect(ctx)
	if err := c.WaitSynchronized(ctx); err != nil {
		t.Fatalf("WaitSynchronized() error = %v", err)
	}
	if n := ps.conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}

	c.Reconnect(ctx)
	if err := c.WaitSynchronized(ctx); err != nil {
		t.Fatalf("WaitSynchronized() after Reconnect error = %v", err)
	}
	if n := ps.conns.Load(); n != 2 {
		t.Errorf("connections after Reconnect = %d, want 2", n)
	}
}

func TestChannel_ConnectOutlivesCallerContext(t *testing.T) {
	ps := newPushServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE_END", "body": "inst1"})
		drain(conn)
	})
	c := newTestChannel(t, ps, Options{})

	connectCtx, cancelConnect := context.WithCancel(context.Background())
	c.Connect(connectCtx)
	cancelConnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.WaitSynchronized(ctx); err != nil {
		t.Fatalf("WaitSynchronized() error = %v", err)
	}
	if !c.Connected() {
		t.Error("loop stopped with the caller context")
	}
}

func TestChannel_ServerCloseAfterSync(t *testing.T) {
	ps := newPushServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for _, id := range []string{"s1", "z1", "z2"} {
			_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE", "body": map[string]any{"device_id": id}})
		}
		_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE_END", "body": "inst1"})
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	})
	c := newTestChannel(t, ps, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Connect(ctx)

	for c.Connected() {
		select {
		case <-ctx.Done():
			t.Fatal("loop still running after the server closed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if c.Alive() {
		t.Error("Alive() = true after the server closed")
	}
	if s := c.State(); s != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s)
	}
	if err := c.WaitSynchronized(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("WaitSynchronized() error = %v, want ErrClosed", err)
	}
	if c.LastError() != nil {
		t.Errorf("LastError() = %v, want nil for a normal close", c.LastError())
	}
}

func TestChannel_DisconnectIsSafe(t *testing.T) {
	tests := []struct {
		name    string
		connect bool
	}{
		{"never connected", false},
		{"connected", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := newPushServer(t, func(conn *websocket.Conn, _ *http.Request) {
				_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE_END", "body": "inst1"})
				drain(conn)
			})
			c := newTestChannel(t, ps, Options{})

			if tt.connect {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				c.Connect(ctx)
				if err := c.WaitSynchronized(ctx); err != nil {
					t.Fatalf("WaitSynchronized() error = %v", err)
				}
			}

			c.Disconnect()
			c.Disconnect()

			if c.Connected() {
				t.Error("Connected() = true after Disconnect")
			}
			if c.Alive() {
				t.Error("Alive() = true after Disconnect")
			}
			if s := c.State(); s != StateDisconnected {
				t.Errorf("State() = %v, want disconnected", s)
			}
			if err := c.WaitSynchronized(context.Background()); !errors.Is(err, ErrClosed) {
				t.Errorf("WaitSynchronized() error = %v, want ErrClosed", err)
			}
		})
	}
}

func TestChannel_WebServerUpdates(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		wsID       string
		wantChange bool
	}{
		{"status update", "WEBSERVER_UPDATES.status", "ws1", true},
		{"config update", "WEBSERVER_UPDATES.config", "ws1", true},
		{"unknown web server", "WEBSERVER_UPDATES.status", "ws9", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := newPushServer(t, func(conn *websocket.Conn, _ *http.Request) {
				_ = conn.WriteJSON(map[string]any{"event": tt.event, "body": map[string]any{
					"ws_id":  tt.wsID,
					"change": map[string]any{"status": map[string]any{"isConnected": true}},
				}})
				drain(conn)
			})

			ws := climate.NewWebServer("inst1", "ws1")
			changes := make(chan climate.Entity, 1)
			events := make(chan string, 1)
			c := newTestChannel(t, ps, Options{
				Resolver: mapResolver{webServers: map[string]*climate.WebServer{"ws1": ws}},
				OnChange: func(e climate.Entity) { changes <- e },
				OnEvent:  func(label string) { events <- label },
			})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			c.Connect(ctx)

			select {
			case label := <-events:
				if label != LabelWebServerUpdates {
					t.Errorf("event label = %q, want %q", label, LabelWebServerUpdates)
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for the web server event")
			}

			if !tt.wantChange {
				select {
				case e := <-changes:
					t.Errorf("OnChange(%s) for an unknown web server", e.ID())
				default:
				}
				if ws.State().Connected {
					t.Error("web server changed by an update for another id")
				}
				return
			}

			select {
			case e := <-changes:
				if e != ws {
					t.Errorf("OnChange entity = %s, want ws1", e.ID())
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for OnChange")
			}
			if !ws.State().Connected {
				t.Error("web server should be connected after the push update")
			}
		})
	}
}
