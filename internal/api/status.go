package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/bridge"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Pipeline      PipelineMetrics `json:"pipeline"`
	Ingest        *bridge.Stats   `json:"ingest,omitempty"`
	Runtime       RuntimeMetrics  `json:"runtime"`
}

// PipelineMetrics describes the delivery pipeline.
type PipelineMetrics struct {
	State           string `json:"state"`
	ConnectionState string `json:"connection_state"`
	BufferLength    int    `json:"buffer_length"`
	BufferCapacity  int    `json:"buffer_capacity"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Pipeline: PipelineMetrics{
			State:           s.pipeline.State().String(),
			ConnectionState: s.pipeline.ConnState().String(),
			BufferLength:    s.pipeline.BufferLen(),
			BufferCapacity:  s.pipeline.BufferCapacity(),
		},
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.stats != nil {
		st := s.stats.Stats()
		resp.Ingest = &st
	}

	writeJSON(w, http.StatusOK, resp)
}
