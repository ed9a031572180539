package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-climate/internal/climate"
	"github.com/nerrad567/gray-logic-climate/internal/cloudapi"
)

// fakeCloud serves one installation with one web server, one system and
// two zones, and counts every request.
type fakeCloud struct {
	*httptest.Server

	mu          sync.Mutex
	hits        map[string]int
	bodies      map[string][]map[string]any
	statusCode  map[string]int // device id -> forced status code
	authFails   int            // device status 401s still to serve
	refreshErr  bool
	refreshGate chan struct{} // when set, refreshes block until closed
	pushSync    bool
	pushClose   bool // close the push channel after the snapshot
	pushLimit   int  // refuse push dials beyond this many when > 0
	pushDials   int
	logins      int
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{
		hits:       make(map[string]int),
		bodies:     make(map[string][]map[string]any),
		statusCode: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		fc.mu.Lock()
		fc.logins++
		fc.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok", "refreshToken": "ref"})
	})
	mux.HandleFunc("GET /api/v1/auth/refreshToken/{token}", func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		fail, gate := fc.refreshErr, fc.refreshGate
		fc.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok2", "refreshToken": "ref2"})
	})
	mux.HandleFunc("GET /api/v1/user/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/v1/installations", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"installations": []any{
			map[string]any{"installation_id": "inst1", "name": "Home", "access_type": "admin", "ws_ids": []any{"ws1"}},
		}})
	})
	mux.HandleFunc("GET /api/v1/installations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"groups": []any{
			map[string]any{"group_id": "g1", "name": "Ground floor", "devices": []any{
				map[string]any{"device_id": "s1", "type": "az_system", "ws_id": "ws1", "meta": map[string]any{"system_number": 1}},
				map[string]any{"device_id": "z1", "type": "az_zone", "ws_id": "ws1", "meta": map[string]any{"system_number": 1, "zone_number": 1}},
				map[string]any{"device_id": "z2", "type": "az_zone", "ws_id": "ws1", "meta": map[string]any{"system_number": 1, "zone_number": 2}},
				map[string]any{"device_id": "e1", "type": "az_energy_clamp", "ws_id": "ws1"},
			}},
		}})
	})
	mux.HandleFunc("GET /api/v1/devices/ws/{ws}/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ws_type": "ws_az",
			"config":  map[string]any{"ws_fw": "3.44"},
			"status":  map[string]any{"isConnected": true},
		})
	})
	mux.HandleFunc("GET /api/v1/devices/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		fc.mu.Lock()
		code := fc.statusCode[id]
		if fc.authFails > 0 {
			fc.authFails--
			code = http.StatusUnauthorized
		}
		fc.mu.Unlock()
		if code != 0 {
			writeJSON(w, code, map[string]any{"msg": "forced failure"})
			return
		}
		writeJSON(w, http.StatusOK, deviceStatus(id))
	})
	mux.HandleFunc("GET /api/v1/devices/{id}/config", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"name": "configured"})
	})
	mux.HandleFunc("PATCH /api/v1/devices/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PUT /api/v1/installations/{id}/group/{group}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PUT /api/v1/installations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/v1/websockets/installation", fc.servePush)

	fc.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		fc.mu.Lock()
		fc.hits[key]++
		if body != nil {
			fc.bodies[key] = append(fc.bodies[key], body)
		}
		fc.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(fc.Close)
	return fc
}

func (fc *fakeCloud) servePush(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	fc.pushDials++
	refuse := fc.pushLimit > 0 && fc.pushDials > fc.pushLimit
	sync, closeAfter := fc.pushSync, fc.pushClose
	fc.mu.Unlock()
	if refuse {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if sync {
		for _, id := range []string{"s1", "z1", "z2"} {
			body := map[string]any{"device_id": id, "status": deviceStatus(id)}
			_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE", "body": body})
		}
		_ = conn.WriteJSON(map[string]any{"event": "DEVICE_STATE_END", "body": "inst1"})
	}
	if closeAfter {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func deviceStatus(id string) map[string]any {
	switch id {
	case "s1":
		return map[string]any{
			"isConnected":    true,
			"ws_connected":   true,
			"mode":           3,
			"mode_available": []any{1, 3, 5, 12},
		}
	case "z1":
		return map[string]any{
			"isConnected":       true,
			"ws_connected":      true,
			"power":             true,
			"mode":              3,
			"mode_available":    []any{1, 3, 5, 12},
			"local_temp":        map[string]any{"celsius": 21.0},
			"setpoint_air_heat": map[string]any{"celsius": 20.0},
		}
	case "z2":
		return map[string]any{
			"isConnected":       true,
			"ws_connected":      true,
			"power":             false,
			"mode":              3,
			"mode_available":    []any{},
			"local_temp":        map[string]any{"celsius": 23.0},
			"setpoint_air_heat": map[string]any{"celsius": 21.0},
		}
	}
	return map[string]any{}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (fc *fakeCloud) count(method, path string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.hits[method+" "+path]
}

func (fc *fakeCloud) lastBody(method, path string) map[string]any {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	list := fc.bodies[method+" "+path]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (fc *fakeCloud) loginCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.logins
}

func (fc *fakeCloud) resetHits() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.hits = make(map[string]int)
	fc.bodies = make(map[string][]map[string]any)
}

func (fc *fakeCloud) wsURL() string {
	return "ws" + strings.TrimPrefix(fc.URL, "http")
}

// newTestOrchestrator wires an orchestrator to the fake cloud with its
// own metrics registry.
func newTestOrchestrator(t *testing.T, fc *fakeCloud, opts Options) *Orchestrator {
	t.Helper()
	opts.Email = "user@example.com"
	opts.Password = "secret"
	opts.WebSocketURL = fc.wsURL()
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	client := cloudapi.New(cloudapi.Options{BaseURL: fc.URL, Observer: opts.Metrics})
	o := New(client, opts)
	t.Cleanup(o.Close)
	return o
}

// discover logs in, selects the only installation and discovers devices.
func discover(t *testing.T, o *Orchestrator) *climate.Installation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	inst, err := o.SelectInstallationByID(ctx, "")
	if err != nil {
		t.Fatalf("SelectInstallationByID() error = %v", err)
	}
	if err := o.UpdateInstallation(ctx, inst); err != nil {
		t.Fatalf("UpdateInstallation() error = %v", err)
	}
	return inst
}

func mustDevice(t *testing.T, o *Orchestrator, id string) climate.Device {
	t.Helper()
	d, ok := o.DeviceByID(id)
	if !ok {
		t.Fatalf("DeviceByID(%q) not found", id)
	}
	return d
}
