package orchestrator

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-climate/internal/climate"
	"github.com/nerrad567/gray-logic-climate/internal/cloudapi"
	"github.com/nerrad567/gray-logic-climate/internal/push"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultMaxConcurrentRequests = 4
	DefaultRequestsLimit         = 100
	DefaultTokenRefreshPeriod    = 12 * time.Hour
	DefaultPushWait              = 30 * time.Second
)

// Raw data keys.
const (
	RawInstallations     = "installations"
	RawInstallationsList = "installations-list"
	RawUser              = "user"
	RawDevicesConfig     = "devices-config"
	RawDevicesStatus     = "devices-status"
	RawWebServers        = "webservers"
	RawWebSockets        = "websockets"
)

// Logger is the logging interface used by the orchestrator.
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

// API is the cloud transport. *cloudapi.Client implements it.
type API interface {
	SetToken(token string)
	Login(ctx context.Context, email, password string) (cloudapi.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (cloudapi.Token, error)
	Logout(ctx context.Context) error
	User(ctx context.Context) (map[string]any, error)
	Installations(ctx context.Context) (map[string]any, error)
	Installation(ctx context.Context, instID string) (map[string]any, error)
	DeviceConfig(ctx context.Context, devID, instID, requestType string) (map[string]any, error)
	DeviceStatus(ctx context.Context, devID, instID string) (map[string]any, error)
	WebServerStatus(ctx context.Context, wsID, instID string, devices bool) (map[string]any, error)
	PatchDevice(ctx context.Context, devID string, body map[string]any) (map[string]any, error)
	PutGroup(ctx context.Context, instID, groupID string, body map[string]any) (map[string]any, error)
	PutInstallation(ctx context.Context, instID string, body map[string]any) (map[string]any, error)
}

// TokenStore persists the session token between restarts.
type TokenStore interface {
	Load(ctx context.Context) (cloudapi.Token, bool, error)
	Save(ctx context.Context, tok cloudapi.Token) error
	Clear(ctx context.Context) error
}

// Options configures an Orchestrator.
type Options struct {
	Email    string
	Password string

	// MaxConcurrentRequests caps in-flight requests across all operations.
	MaxConcurrentRequests int

	// RequestsLimit is the per-minute request budget used for the
	// polling warning.
	RequestsLimit int

	// DeviceConfig enables per-device config requests.
	DeviceConfig bool

	// WebSockets enables the push channel; WebSocketURL is its root.
	WebSockets   bool
	WebSocketURL string

	TokenRefreshPeriod time.Duration

	// PushWait bounds the wait for push synchronization before falling
	// back to polling.
	PushWait time.Duration

	// AliveWindow is passed to each push channel.
	AliveWindow time.Duration

	// Dialer overrides the push channel dialer.
	Dialer *websocket.Dialer

	Logger  Logger
	Metrics *Metrics
	Store   TokenStore
}

// Orchestrator owns the session, the known entities and the push
// channels, and runs update cycles and commands against the cloud.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Every cloud request holds one limiter slot for its duration, so the
//     cap applies across concurrent update cycles and commands.
type Orchestrator struct {
	api     API
	opts    Options
	logger  Logger
	metrics *Metrics
	limiter *semaphore.Weighted
	refresh singleflight.Group
	now     func() time.Time

	tokenMu sync.RWMutex
	token   cloudapi.Token

	mu            sync.RWMutex
	installations map[string]*climate.Installation
	webServers    map[string]*climate.WebServer
	devices       map[string]climate.Device
	groups        map[string]*climate.Group
	channels      map[string]*push.Channel

	pushFirst atomic.Bool

	rawMu sync.Mutex
	raw   map[string]any

	subMu       sync.RWMutex
	subscribers []func(climate.Entity)
}

// New creates an Orchestrator.
func New(api API, opts Options) *Orchestrator {
	if opts.MaxConcurrentRequests <= 0 {
		opts.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if opts.RequestsLimit <= 0 {
		opts.RequestsLimit = DefaultRequestsLimit
	}
	if opts.TokenRefreshPeriod <= 0 {
		opts.TokenRefreshPeriod = DefaultTokenRefreshPeriod
	}
	if opts.PushWait <= 0 {
		opts.PushWait = DefaultPushWait
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Orchestrator{
		api:           api,
		opts:          opts,
		logger:        logger,
		metrics:       opts.Metrics,
		limiter:       semaphore.NewWeighted(int64(opts.MaxConcurrentRequests)),
		now:           time.Now,
		installations: make(map[string]*climate.Installation),
		webServers:    make(map[string]*climate.WebServer),
		devices:       make(map[string]climate.Device),
		groups:        make(map[string]*climate.Group),
		channels:      make(map[string]*push.Channel),
		raw: map[string]any{
			RawDevicesConfig: map[string]any{},
			RawDevicesStatus: map[string]any{},
			RawInstallations: map[string]any{},
			RawWebServers:    map[string]any{},
		},
	}
}

// Subscribe registers fn to be called with every entity whose state
// changed, from push events and poll results alike. fn runs outside any
// entity lock and must not block for long.
func (o *Orchestrator) Subscribe(fn func(climate.Entity)) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

func (o *Orchestrator) notify(e climate.Entity) {
	o.subMu.RLock()
	subs := slices.Clone(o.subscribers)
	o.subMu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// call runs one cloud request under the global limiter. The slot is
// released before the result is returned, whatever the outcome.
func (o *Orchestrator) call(ctx context.Context, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	if err := o.limiter.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	o.metrics.acquired()
	defer func() {
		o.metrics.released()
		o.limiter.Release(1)
	}()
	return fn(ctx)
}

// fanOut runs fn for every item concurrently and waits for all of them.
// A failing item does not stop its siblings; the errors are joined.
func fanOut[T any](ctx context.Context, items []T, fn func(context.Context, T) error) error {
	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(ctx, item)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// parallel runs each fn concurrently and joins their errors.
func parallel(ctx context.Context, fns ...func(context.Context) error) error {
	return fanOut(ctx, fns, func(ctx context.Context, fn func(context.Context) error) error {
		return fn(ctx)
	})
}

// setRaw records a raw response. An empty sub key replaces the whole entry.
func (o *Orchestrator) setRaw(key, sub string, data map[string]any) {
	if data == nil {
		return
	}
	o.rawMu.Lock()
	defer o.rawMu.Unlock()
	if sub == "" {
		o.raw[key] = data
		return
	}
	m, ok := o.raw[key].(map[string]any)
	if !ok {
		m = make(map[string]any)
		o.raw[key] = m
	}
	m[sub] = data
}

// RawData returns the last raw responses per endpoint group plus the
// cached push snapshots, for diagnostics.
func (o *Orchestrator) RawData() map[string]any {
	o.rawMu.Lock()
	out := make(map[string]any, len(o.raw)+1)
	for k, v := range o.raw {
		if m, ok := v.(map[string]any); ok {
			v = maps.Clone(m)
		}
		out[k] = v
	}
	o.rawMu.Unlock()

	ws := make(map[string]any)
	for _, ch := range o.channelList() {
		ws[ch.InstallationID()] = ch.Snapshot()
	}
	out[RawWebSockets] = ws
	return out
}

// Installations returns the known installations.
func (o *Orchestrator) Installations() []*climate.Installation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sortedValues(o.installations)
}

// Installation returns an installation by id.
func (o *Orchestrator) Installation(id string) (*climate.Installation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inst, ok := o.installations[id]
	return inst, ok
}

// Devices returns every known device ordered by id.
func (o *Orchestrator) Devices() []climate.Device {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sortedValues(o.devices)
}

// DeviceByID returns a device by id.
func (o *Orchestrator) DeviceByID(id string) (climate.Device, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.devices[id]
	return d, ok
}

// WebServers returns the known web servers ordered by id.
func (o *Orchestrator) WebServers() []*climate.WebServer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sortedValues(o.webServers)
}

// WebServerByID returns a web server by id.
func (o *Orchestrator) WebServerByID(id string) (*climate.WebServer, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ws, ok := o.webServers[id]
	return ws, ok
}

// Groups returns the named groups ordered by id.
func (o *Orchestrator) Groups() []*climate.Group {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sortedValues(o.groups)
}

// Group returns a named group by id.
func (o *Orchestrator) Group(id string) (*climate.Group, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g, ok := o.groups[id]
	return g, ok
}

// Channels returns the push channels keyed by installation id.
func (o *Orchestrator) Channels() map[string]*push.Channel {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.channels)
}

// Close disconnects every push channel. The session is kept so a later
// process can restore it.
func (o *Orchestrator) Close() {
	for _, ch := range o.channelList() {
		ch.Disconnect()
	}
}

func (o *Orchestrator) channelList() []*push.Channel {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sortedValues(o.channels)
}

// devicesOf returns the known devices of the given kinds.
func (o *Orchestrator) devicesOf(kinds ...climate.Kind) []climate.Device {
	var out []climate.Device
	for _, d := range o.Devices() {
		if slices.Contains(kinds, d.Kind()) {
			out = append(out, d)
		}
	}
	return out
}

func sortedValues[V any](m map[string]V) []V {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]V, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
