package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-climate/internal/audit"
	"github.com/nerrad567/gray-logic-climate/internal/climate"
	"github.com/nerrad567/gray-logic-climate/internal/cloudapi"
	"github.com/nerrad567/gray-logic-climate/internal/orchestrator"
)

// EntityView is the JSON form of an entity.
type EntityView struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Name        string         `json:"name,omitempty"`
	Initialized bool           `json:"initialized"`
	UpdatedAt   string         `json:"updated_at,omitempty"`
	Data        map[string]any `json:"data"`
}

// viewable is satisfied by entities and by groups and installations,
// whose state is derived from their members.
type viewable interface {
	ID() string
	Data() map[string]any
}

func entityView(e viewable) EntityView {
	v := EntityView{ID: e.ID(), Data: e.Data(), Initialized: true}
	if ent, ok := e.(climate.Entity); ok {
		v.Initialized = ent.Initialized()
		if t := ent.LastApplied(); !t.IsZero() {
			v.UpdatedAt = t.UTC().Format(time.RFC3339)
		}
	}
	switch x := e.(type) {
	case climate.Device:
		v.Type = x.Kind().String()
		v.Name = x.Name()
	case *climate.Group:
		v.Type = "group"
		v.Name = x.Name()
	case *climate.Installation:
		v.Type = "installation"
		v.Name = x.Name()
	case *climate.WebServer:
		v.Type = "webserver"
	}
	return v
}

func entityViews[E viewable](items []E) []EntityView {
	out := make([]EntityView, 0, len(items))
	for _, e := range items {
		out = append(out, entityView(e))
	}
	return out
}

func (s *Server) handleListInstallations(w http.ResponseWriter, _ *http.Request) {
	items := entityViews(s.controller.Installations())
	writeJSON(w, http.StatusOK, map[string]any{"installations": items, "count": len(items)})
}

func (s *Server) handleListWebServers(w http.ResponseWriter, _ *http.Request) {
	items := entityViews(s.controller.WebServers())
	writeJSON(w, http.StatusOK, map[string]any{"webservers": items, "count": len(items)})
}

// handleListDevices lists devices, optionally filtered by ?type=zone.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	devices := s.controller.Devices()
	items := make([]EntityView, 0, len(devices))
	for _, d := range devices {
		if kind != "" && d.Kind().String() != kind {
			continue
		}
		items = append(items, entityView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": items, "count": len(items)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.controller.DeviceByID(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, entityView(d))
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	items := entityViews(s.controller.Groups())
	writeJSON(w, http.StatusOK, map[string]any{"groups": items, "count": len(items)})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.controller.Group(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "group not found")
		return
	}
	view := entityView(g)
	members := g.Devices()
	ids := make([]string, 0, len(members))
	for _, d := range members {
		ids = append(ids, d.ID())
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": view, "devices": ids})
}

// decodeParams reads a JSON object of parameter names to values. Numbers
// decode as float64, matching the cloud's own payloads.
func decodeParams(r *http.Request) (map[string]any, error) {
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if len(params) == 0 {
		return nil, errors.New("at least one parameter is required")
	}
	return params, nil
}

func (s *Server) handleSetDeviceParams(w http.ResponseWriter, r *http.Request) {
	params, err := decodeParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	err = s.controller.SetDeviceParams(r.Context(), id, params)
	s.recordCommand(r, audit.EntityDevice, id, params, err)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	d, _ := s.controller.DeviceByID(id)
	writeJSON(w, http.StatusOK, entityView(d))
}

func (s *Server) handleSetGroupParams(w http.ResponseWriter, r *http.Request) {
	params, err := decodeParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	err = s.controller.SetGroupParams(r.Context(), id, params)
	s.recordCommand(r, audit.EntityGroup, id, params, err)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	g, _ := s.controller.Group(id)
	writeJSON(w, http.StatusOK, entityView(g))
}

func (s *Server) recordCommand(r *http.Request, entityType, id string, params map[string]any, err error) {
	if s.audit == nil {
		return
	}
	s.audit.Command(r.Context(), audit.SourceAPI, entityType, id, params, err)
}

// writeCommandError maps command failures onto HTTP statuses.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownDevice), errors.Is(err, orchestrator.ErrUnknownGroup):
		writeNotFound(w, err.Error())
	case errors.Is(err, climate.ErrInvalidValue), errors.Is(err, climate.ErrModeUnavailable),
		errors.Is(err, climate.ErrUnsupportedParam), errors.Is(err, cloudapi.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, cloudapi.ErrRateLimit):
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
	default:
		s.logger.Warn("command failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.update == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "on-demand updates are disabled")
		return
	}
	start := time.Now()
	if err := s.update(r.Context()); err != nil {
		s.logger.Warn("on-demand update failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// handleListAudit serves the command trail. Query parameters: entity_type,
// entity_id, source, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is disabled")
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Source:     q.Get("source"),
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit log", "error", err)
		writeInternalError(w, "listing audit log failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRawData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.RawData())
}

// StatusView is the process and sync summary served on /status.
type StatusView struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeView    `json:"runtime"`
	Session       SessionView    `json:"session"`
	Devices       map[string]int `json:"devices"`
	WebSocket     int            `json:"websocket_clients"`
	MQTTConnected *bool          `json:"mqtt_connected,omitempty"`
}

// RuntimeView holds Go runtime statistics.
type RuntimeView struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// SessionView describes the cloud session without exposing the token.
type SessionView struct {
	Valid     bool   `json:"valid"`
	IssuedAt  string `json:"issued_at,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	view := StatusView{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeView{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		Devices:   make(map[string]int),
		WebSocket: s.hub.ClientCount(),
	}

	tok := s.controller.Token()
	view.Session.Valid = tok.Valid()
	if !tok.IssuedAt.IsZero() {
		view.Session.IssuedAt = tok.IssuedAt.UTC().Format(time.RFC3339)
	}
	if exp, ok := tok.Expiry(); ok {
		view.Session.ExpiresAt = exp.UTC().Format(time.RFC3339)
	}

	for _, d := range s.controller.Devices() {
		view.Devices[d.Kind().String()]++
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		view.MQTTConnected = &connected
	}
	writeJSON(w, http.StatusOK, view)
}
