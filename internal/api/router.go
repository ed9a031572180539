package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get(s.wsPath(), s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/installations", s.handleListInstallations)
		r.Get("/webservers", s.handleListWebServers)
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Get("/groups", s.handleListGroups)
		r.Get("/groups/{id}", s.handleGetGroup)

		r.Group(func(r chi.Router) {
			r.Use(s.requireKeyMiddleware)
			r.Get("/raw", s.handleRawData)
			r.Post("/update", s.handleUpdate)
			r.Get("/audit", s.handleListAudit)
			r.Post("/devices/{id}/params", s.handleSetDeviceParams)
			r.Post("/groups/{id}/params", s.handleSetGroupParams)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path != "" {
		return s.wsCfg.Path
	}
	return "/ws"
}

// handleHealth reports liveness and whether a cloud session is held.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"session": s.controller.Token().Valid(),
	})
}
