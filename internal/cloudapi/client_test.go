package cloudapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

// newTestServer serves handler and records every request.
func newTestServer(t *testing.T, handler http.HandlerFunc) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.EscapedPath(), Query: r.URL.RawQuery, Header: r.Header.Clone()}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.Body)
		}
		ts.mu.Lock()
		ts.requests = append(ts.requests, rec)
		ts.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) last(t *testing.T) recordedRequest {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.requests) == 0 {
		t.Fatal("no request recorded")
	}
	return ts.requests[len(ts.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type countingObserver struct {
	mu    sync.Mutex
	calls map[string][]int
}

func (o *countingObserver) ObserveRequest(endpoint string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = make(map[string][]int)
	}
	o.calls[endpoint] = append(o.calls[endpoint], status)
}

func TestClient_Login(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok-1", "refreshToken": "ref-1"})
	})
	obs := &countingObserver{}
	c := New(Options{BaseURL: ts.URL, Observer: obs})

	before := time.Now()
	tok, err := c.Login(context.Background(), "user@example.com", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if tok.Token != "tok-1" || tok.RefreshToken != "ref-1" {
		t.Errorf("Login() token = %+v", tok)
	}
	if tok.IssuedAt.Before(before) {
		t.Errorf("IssuedAt = %v, want at or after %v", tok.IssuedAt, before)
	}

	req := ts.last(t)
	if req.Method != http.MethodPost || req.Path != "/api/v1/auth/login" {
		t.Errorf("request = %s %s, want POST /api/v1/auth/login", req.Method, req.Path)
	}
	if req.Body["email"] != "user@example.com" || req.Body["password"] != "secret" {
		t.Errorf("request body = %v", req.Body)
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("login must not send an Authorization header before a token is set")
	}
	if req.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if got := obs.calls[EndpointLogin]; len(got) != 1 || got[0] != http.StatusOK {
		t.Errorf("observed login calls = %v, want [200]", got)
	}
}

func TestClient_LoginErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		wantErrs []error
	}{
		{"unauthorized", http.StatusUnauthorized, map[string]any{"msg": "bad credentials"}, []error{ErrLogin}},
		{"server error", http.StatusInternalServerError, nil, []error{ErrLogin}},
		{"missing refresh token", http.StatusOK, map[string]any{"token": "tok"}, []error{ErrLogin, ErrProtocol}},
		{"empty body", http.StatusOK, nil, []error{ErrLogin, ErrProtocol}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			})
			c := New(Options{BaseURL: ts.URL})

			_, err := c.Login(context.Background(), "user@example.com", "wrong")
			for _, want := range tt.wantErrs {
				if !errors.Is(err, want) {
					t.Errorf("Login() error = %v, want %v", err, want)
				}
			}
			if !IsAuthFailure(err) {
				t.Errorf("IsAuthFailure(%v) = false", err)
			}
		})
	}
}

func TestClient_RefreshToken(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() == "/api/v1/auth/refreshToken/bad" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok-2", "refreshToken": "ref-2"})
	})
	c := New(Options{BaseURL: ts.URL})
	c.SetToken("tok-1")

	tok, err := c.RefreshToken(context.Background(), "ref/1")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if tok.Token != "tok-2" {
		t.Errorf("Token = %q, want tok-2", tok.Token)
	}
	req := ts.last(t)
	if req.Path != "/api/v1/auth/refreshToken/ref%2F1" {
		t.Errorf("path = %q, want escaped refresh token", req.Path)
	}
	if req.Header.Get("Authorization") != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", req.Header.Get("Authorization"))
	}

	_, err = c.RefreshToken(context.Background(), "bad")
	if !errors.Is(err, ErrRefresh) {
		t.Fatalf("RefreshToken() error = %v, want ErrRefresh", err)
	}
	if errors.Is(err, ErrAuth) {
		t.Error("refresh failures must not be reported as ErrAuth")
	}
	if strings.Contains(err.Error(), "/bad") {
		t.Errorf("error leaks refresh token: %v", err)
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrAPI},
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusNotFound, ErrAPI},
		{http.StatusUnprocessableEntity, ErrValidation},
		{http.StatusTooManyRequests, ErrRateLimit},
		{http.StatusBadGateway, ErrAPI},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ts := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, map[string]any{"msg": "nope"})
			})
			c := New(Options{BaseURL: ts.URL})

			_, err := c.DeviceStatus(context.Background(), "dev1", "inst1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("DeviceStatus() error = %v, want %v", err, tt.want)
			}
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not a *StatusError", err)
			}
			if se.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", se.StatusCode, tt.status)
			}
			if !strings.Contains(se.Body, "nope") {
				t.Errorf("Body = %q, want response text", se.Body)
			}
		})
	}
}

func TestClient_DeviceConfigValidationIsEmpty(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	c := New(Options{BaseURL: ts.URL})

	resp, err := c.DeviceConfig(context.Background(), "dev1", "inst1", "user")
	if err != nil {
		t.Fatalf("DeviceConfig() error = %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("DeviceConfig() = %v, want empty", resp)
	}
	req := ts.last(t)
	if req.Path != "/api/v1/devices/dev1/config" {
		t.Errorf("path = %q", req.Path)
	}
	if req.Query != "installation_id=inst1&type=user" {
		t.Errorf("query = %q", req.Query)
	}
}

func TestClient_Paths(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	c := New(Options{BaseURL: ts.URL + "/"})
	ctx := context.Background()
	body := map[string]any{"param": "power", "value": true}

	tests := []struct {
		name   string
		call   func() error
		method string
		path   string
		query  string
	}{
		{"installations", func() error { _, err := c.Installations(ctx); return err }, http.MethodGet, "/api/v1/installations", ""},
		{"installation", func() error { _, err := c.Installation(ctx, "inst 1"); return err }, http.MethodGet, "/api/v1/installations/inst%201", ""},
		{"device status", func() error { _, err := c.DeviceStatus(ctx, "dev1", "inst1"); return err }, http.MethodGet, "/api/v1/devices/dev1/status", "installation_id=inst1"},
		{"webserver", func() error { _, err := c.WebServerStatus(ctx, "ws1", "inst1", true); return err }, http.MethodGet, "/api/v1/devices/ws/ws1/status", "devices=1&installation_id=inst1"},
		{"patch device", func() error { _, err := c.PatchDevice(ctx, "dev1", body); return err }, http.MethodPatch, "/api/v1/devices/dev1", ""},
		{"put group", func() error { _, err := c.PutGroup(ctx, "inst1", "g1", body); return err }, http.MethodPut, "/api/v1/installations/inst1/group/g1", ""},
		{"put installation", func() error { _, err := c.PutInstallation(ctx, "inst1", body); return err }, http.MethodPut, "/api/v1/installations/inst1", ""},
		{"logout", func() error { return c.Logout(ctx) }, http.MethodGet, "/api/v1/user/logout", ""},
		{"user", func() error { _, err := c.User(ctx); return err }, http.MethodGet, "/api/v1/user", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err != nil {
				t.Fatalf("call error = %v", err)
			}
			req := ts.last(t)
			if req.Method != tt.method || req.Path != tt.path || req.Query != tt.query {
				t.Errorf("request = %s %s?%s, want %s %s?%s", req.Method, req.Path, req.Query, tt.method, tt.path, tt.query)
			}
		})
	}
}

func TestClient_PatchDeviceSendsBody(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c := New(Options{BaseURL: ts.URL})
	c.SetToken("tok")

	_, err := c.PatchDevice(context.Background(), "dev1", map[string]any{"param": "setpoint", "value": 21.5, "installation_id": "inst1"})
	if err != nil {
		t.Fatalf("PatchDevice() error = %v", err)
	}
	req := ts.last(t)
	if req.Body["param"] != "setpoint" || req.Body["value"] != 21.5 {
		t.Errorf("body = %v", req.Body)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
	}
}

func TestClient_ProtocolError(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	})
	c := New(Options{BaseURL: ts.URL})

	_, err := c.Installations(context.Background())
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("Installations() error = %v, want ErrProtocol", err)
	}
}

func TestClient_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	obs := &countingObserver{}
	c := New(Options{BaseURL: url, Observer: obs})

	_, err := c.Installations(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Installations() error = %v, want ErrTransport", err)
	}
	if got := obs.calls[EndpointInstallations]; len(got) != 1 || got[0] != 0 {
		t.Errorf("observed = %v, want [0]", got)
	}

	_, err = c.Login(context.Background(), "a", "b")
	if !errors.Is(err, ErrTransport) || !errors.Is(err, ErrLogin) {
		t.Errorf("Login() error = %v, want ErrTransport and ErrLogin", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c := New(Options{BaseURL: ts.URL, Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := c.Installations(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Installations() error = %v, want ErrTransport", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request took %v, want timeout near 50ms", elapsed)
	}
}

func TestToken(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tok := Token{Token: signed, RefreshToken: "ref", IssuedAt: now.Add(-13 * time.Hour)}

	if !tok.Valid() {
		t.Error("Valid() = false, want true")
	}
	if !tok.Stale(12*time.Hour, now) {
		t.Error("Stale() = false for a 13h old token, want true")
	}
	if tok.Stale(24*time.Hour, now) {
		t.Error("Stale() = true with a 24h period, want false")
	}

	got, ok := tok.Expiry()
	if !ok || !got.Equal(exp) {
		t.Errorf("Expiry() = %v, %v, want %v", got, ok, exp)
	}

	if _, ok := (Token{Token: "not-a-jwt"}).Expiry(); ok {
		t.Error("Expiry() ok for an opaque token")
	}
	if (Token{Token: "a", RefreshToken: "b"}).Valid() {
		t.Error("Valid() = true without an issue time")
	}
}
