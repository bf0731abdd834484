package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", s.handleListEntries)
			r.Post("/", s.handleCreateEntry)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEntry)
				r.Delete("/", s.handleDeleteEntry)
			})
		})

		r.Get("/discovered", s.handleListDiscovered)
		r.Get("/bridges", s.handleListBridges)
		r.Get("/devices", s.handleListDevices)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// Health statuses reported by /api/v1/health.
const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

// handleHealth returns the server health status. The status is degraded
// while the broker is unreachable; the response code stays 200.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := s.mqtt != nil && s.mqtt.IsConnected()
	status := healthOK
	if !connected {
		status = healthDegraded
	}

	resp := map[string]any{
		"status":         status,
		"version":        s.version,
		"mqtt_connected": connected,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	}
	if s.topology != nil {
		resp["bridges"] = len(s.topology.Bridges())
		resp["pending"] = s.topology.PendingCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
