package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// API path segments.
const (
	apiV1            = "api/v1"
	pathLogin        = "auth/login"
	pathRefresh      = "auth/refreshToken"
	pathLogout       = "user/logout"
	pathUser         = "user"
	pathInstallation = "installations"
	pathDevices      = "devices"
	pathWebServer    = "ws"
	pathConfig       = "config"
	pathStatus       = "status"
	pathGroup        = "group"
)

// Endpoint labels. They name a request for metrics and error
// classification and never contain ids.
const (
	EndpointLogin           = "login"
	EndpointRefresh         = "refresh"
	EndpointLogout          = "logout"
	EndpointUser            = "user"
	EndpointInstallations   = "installations"
	EndpointInstallation    = "installation"
	EndpointDeviceConfig    = "device_config"
	EndpointDeviceStatus    = "device_status"
	EndpointWebServerStatus = "webserver_status"
	EndpointPatchDevice     = "patch_device"
	EndpointPutGroup        = "put_group"
	EndpointPutInstallation = "put_installation"
)

// Query and body keys.
const (
	keyInstallationID = "installation_id"
	keyType           = "type"
	keyEmail          = "email"
	keyPassword       = "password"
)

// DefaultTimeout is the per-request timeout when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 512

// Logger is the logging interface used by the client.
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

// Observer receives one call per completed request. status is 0 when no
// response was received.
type Observer interface {
	ObserveRequest(endpoint string, status int, elapsed time.Duration)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the cloud root, e.g. https://m.airzonecloud.com.
	BaseURL string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport. Its Timeout is left untouched.
	HTTPClient *http.Client

	Logger   Logger
	Observer Observer
}

// Client is a thin JSON transport for the cloud REST API.
//
// It adds the bearer token and a request id to every call and maps
// failures onto the package sentinels. It does not limit concurrency
// or refresh tokens; the orchestrator owns both.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   Logger
	observer Observer
	now      func() time.Time

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     hc,
		logger:   logger,
		observer: opts.Observer,
		now:      time.Now,
	}
}

// SetToken replaces the bearer token used by subsequent requests.
// An empty token sends no Authorization header.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// request describes one API call.
type request struct {
	endpoint string
	method   string
	path     string
	query    url.Values
	body     any
}

// do performs a request and decodes the JSON object response.
//
// Parameters:
//   - ctx: Cancels the request
//   - r: The call to make
//
// Returns:
//   - map[string]any: Decoded response body, empty when the body is empty
//   - error: *StatusError for non-2xx, ErrTransport or ErrProtocol otherwise
func (c *Client) do(ctx context.Context, r request) (map[string]any, error) {
	target := c.baseURL + "/" + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", r.endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", r.endpoint, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	c.logger.Debug("cloud request", "endpoint", r.endpoint, "method", r.method, "request_id", reqID)

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(r.endpoint, 0, start)
		// The URL error repeats the full target, refresh token included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("%w: %s /%s: %w", ErrTransport, r.method, redactPath(r), err)
	}
	defer resp.Body.Close()
	c.observe(r.endpoint, resp.StatusCode, start)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrTransport, r.endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &StatusError{
			Method:     r.method,
			Path:       redactPath(r),
			StatusCode: resp.StatusCode,
			Body:       text,
			kind:       classify(r.endpoint, resp.StatusCode),
		}
	}

	out := make(map[string]any)
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s response: %w", ErrProtocol, r.endpoint, err)
	}
	c.logger.Debug("cloud response", "endpoint", r.endpoint, "status", resp.StatusCode, "request_id", reqID)
	return out, nil
}

func (c *Client) observe(endpoint string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(endpoint, status, c.now().Sub(start))
	}
}

// redactPath keeps the refresh token out of error messages.
func redactPath(r request) string {
	if r.endpoint == EndpointRefresh {
		return apiV1 + "/" + pathRefresh + "/***"
	}
	return r.path
}

// v1 joins already-escaped path segments under the API version prefix.
func v1(parts ...string) string {
	return strings.Join(append([]string{apiV1}, parts...), "/")
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (Token, error) {
	resp, err := c.do(ctx, request{
		endpoint: EndpointLogin,
		method:   http.MethodPost,
		path:     v1(pathLogin),
		body:     map[string]string{keyEmail: email, keyPassword: password},
	})
	if err != nil {
		return Token{}, loginFailure(ErrLogin, err)
	}
	return tokenFromResponse(resp, ErrLogin, c.now())
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (Token, error) {
	resp, err := c.do(ctx, request{
		endpoint: EndpointRefresh,
		method:   http.MethodGet,
		path:     v1(pathRefresh, url.PathEscape(refreshToken)),
	})
	if err != nil {
		return Token{}, loginFailure(ErrRefresh, err)
	}
	return tokenFromResponse(resp, ErrRefresh, c.now())
}

// loginFailure makes transport failures on the auth endpoints carry the
// endpoint sentinel as well. Status errors already do.
func loginFailure(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Logout invalidates the current token on the server.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, request{
		endpoint: EndpointLogout,
		method:   http.MethodGet,
		path:     v1(pathLogout),
	})
	return err
}

// User returns the account profile.
func (c *Client) User(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, request{
		endpoint: EndpointUser,
		method:   http.MethodGet,
		path:     v1(pathUser),
	})
}

// Installations lists the installations visible to the account.
func (c *Client) Installations(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, request{
		endpoint: EndpointInstallations,
		method:   http.MethodGet,
		path:     v1(pathInstallation),
	})
}

// Installation returns an installation with its groups and devices.
func (c *Client) Installation(ctx context.Context, instID string) (map[string]any, error) {
	return c.do(ctx, request{
		endpoint: EndpointInstallation,
		method:   http.MethodGet,
		path:     v1(pathInstallation, url.PathEscape(instID)),
	})
}

// DeviceConfig returns a device's configuration. A 422 answer means the
// device has no config and yields an empty map.
func (c *Client) DeviceConfig(ctx context.Context, devID, instID, requestType string) (map[string]any, error) {
	resp, err := c.do(ctx, request{
		endpoint: EndpointDeviceConfig,
		method:   http.MethodGet,
		path:     v1(pathDevices, url.PathEscape(devID), pathConfig),
		query:    url.Values{keyInstallationID: {instID}, keyType: {requestType}},
	})
	if errors.Is(err, ErrValidation) {
		c.logger.Debug("device config unavailable", "device_id", devID)
		return map[string]any{}, nil
	}
	return resp, err
}

// DeviceStatus returns a device's live status.
func (c *Client) DeviceStatus(ctx context.Context, devID, instID string) (map[string]any, error) {
	return c.do(ctx, request{
		endpoint: EndpointDeviceStatus,
		method:   http.MethodGet,
		path:     v1(pathDevices, url.PathEscape(devID), pathStatus),
		query:    url.Values{keyInstallationID: {instID}},
	})
}

// WebServerStatus returns a web server's status, and its device list
// when devices is true.
func (c *Client) WebServerStatus(ctx context.Context, wsID, instID string, devices bool) (map[string]any, error) {
	query := url.Values{keyInstallationID: {instID}}
	if devices {
		query.Set(pathDevices, strconv.Itoa(1))
	}
	return c.do(ctx, request{
		endpoint: EndpointWebServerStatus,
		method:   http.MethodGet,
		path:     v1(pathDevices, pathWebServer, url.PathEscape(wsID), pathStatus),
		query:    query,
	})
}

// PatchDevice sends a device parameter command.
func (c *Client) PatchDevice(ctx context.Context, devID string, body map[string]any) (map[string]any, error) {
	return c.do(ctx, request{
		endpoint: EndpointPatchDevice,
		method:   http.MethodPatch,
		path:     v1(pathDevices, url.PathEscape(devID)),
		body:     body,
	})
}

// PutGroup sends a group parameter command.
func (c *Client) PutGroup(ctx context.Context, instID, groupID string, body map[string]any) (map[string]any, error) {
	return c.do(ctx, request{
		endpoint: EndpointPutGroup,
		method:   http.MethodPut,
		path:     v1(pathInstallation, url.PathEscape(instID), pathGroup, url.PathEscape(groupID)),
		body:     body,
	})
}

// PutInstallation sends an installation-wide parameter command.
func (c *Client) PutInstallation(ctx context.Context, instID string, body map[string]any) (map[string]any, error) {
	return c.do(ctx, request{
		endpoint: EndpointPutInstallation,
		method:   http.MethodPut,
		path:     v1(pathInstallation, url.PathEscape(instID)),
		body:     body,
	})
}
