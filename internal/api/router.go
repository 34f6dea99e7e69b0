package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/delivery"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/deadletters", s.handleListDeadLetters)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "no route for "+r.URL.Path)
	})

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	PipelineState   string `json:"pipeline_state"`
	ConnectionState string `json:"connection_state"`
	BufferLength    int    `json:"buffer_length"`
	BufferCapacity  int    `json:"buffer_capacity"`
}

// handleHealth reports 200 while the bridge can relay, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.pipeline.State()
	conn := s.pipeline.ConnState()

	resp := HealthResponse{
		Status:          "ok",
		Version:         s.version,
		PipelineState:   state.String(),
		ConnectionState: conn.String(),
		BufferLength:    s.pipeline.BufferLen(),
		BufferCapacity:  s.pipeline.BufferCapacity(),
	}

	status := http.StatusOK
	switch {
	case state == delivery.StateFatal:
		resp.Status = "fatal"
		status = http.StatusServiceUnavailable
	case conn != delivery.ConnConnected:
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
