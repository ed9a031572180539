package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-climate/internal/audit"
	"github.com/nerrad567/gray-logic-climate/internal/climate"
	"github.com/nerrad567/gray-logic-climate/internal/cloudapi"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds the wait for in-flight requests on Close.
const gracefulShutdownTimeout = 10 * time.Second

// ChannelStateChanged is the WebSocket channel carrying every entity
// update.
const ChannelStateChanged = "state.changed"

// Controller is the view of the sync engine the API serves.
type Controller interface {
	Installations() []*climate.Installation
	Devices() []climate.Device
	DeviceByID(id string) (climate.Device, bool)
	Groups() []*climate.Group
	Group(id string) (*climate.Group, bool)
	WebServers() []*climate.WebServer
	SetDeviceParams(ctx context.Context, devID string, params map[string]any) error
	SetGroupParams(ctx context.Context, groupID string, params map[string]any) error
	RawData() map[string]any
	Token() cloudapi.Token
}

// KeyVerifier checks API keys presented on mutating routes.
type KeyVerifier interface {
	Verify(key string) bool
}

// AuditLog records commands and lists the trail.
type AuditLog interface {
	Command(ctx context.Context, source, entityType, entityID string, params map[string]any, err error)
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Connectivity reports whether an optional backend is connected.
type Connectivity interface {
	IsConnected() bool
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Controller Controller

	// Update runs one update cycle on demand. Nil disables POST /update.
	Update func(ctx context.Context) error

	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// MQTT is reported on the status endpoint when set.
	MQTT Connectivity

	// Keys guards the raw, update, audit and params routes. Nil leaves
	// them open.
	Keys KeyVerifier

	// Audit records parameter commands and backs GET /audit. Optional.
	Audit AuditLog

	Version string
}

// Server is the local HTTP API.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	controller Controller
	update     func(ctx context.Context) error
	gatherer   prometheus.Gatherer
	mqtt       Connectivity
	keys       KeyVerifier
	audit      AuditLog
	version    string
	startTime  time.Time

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc
}

// New creates a server. Nothing listens until Start.
//
// Parameters:
//   - deps: Logger and Controller are required
//
// Returns:
//   - *Server: Configured server
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		controller: deps.Controller,
		update:     deps.Update,
		gatherer:   deps.Gatherer,
		mqtt:       deps.MQTT,
		keys:       deps.Keys,
		audit:      deps.Audit,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.WS, deps.Logger),
	}
	s.hub.SetSnapshot(s.snapshot)
	return s, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Publish broadcasts the state of e to the WebSocket clients subscribed
// to state.changed, to its type channel or to its entity channel. A
// device change also broadcasts the groups that contain it.
func (s *Server) Publish(e climate.Entity) {
	s.hub.BroadcastState(entityView(e))

	d, ok := e.(climate.Device)
	if !ok {
		return
	}
	for _, g := range s.controller.Groups() {
		if slices.ContainsFunc(g.Devices(), func(m climate.Device) bool { return m.ID() == d.ID() }) {
			s.hub.BroadcastState(entityView(g))
		}
	}
}

// snapshot lists every entity the API serves.
func (s *Server) snapshot() []EntityView {
	out := entityViews(s.controller.Installations())
	out = append(out, entityViews(s.controller.Groups())...)
	out = append(out, entityViews(s.controller.WebServers())...)
	return append(out, entityViews(s.controller.Devices())...)
}

// Start runs the hub and begins listening in the background. A listen
// failure such as a port in use is returned.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close stops the hub and shuts the listener down, waiting up to
// gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server was started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
