package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/bridge"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/deadletter"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/delivery"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/config"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/logging"
)

// Server timeouts.
const (
	gracefulShutdownTimeout = 10 * time.Second
	readTimeout             = 5 * time.Second
	writeTimeout            = 10 * time.Second
	idleTimeout             = 60 * time.Second
)

// PipelineStatus is the read side of delivery.Pipeline.
type PipelineStatus interface {
	State() delivery.State
	ConnState() delivery.ConnState
	BufferLen() int
	BufferCapacity() int
}

// StatsProvider reports ingest counters. *bridge.Bridge satisfies it.
type StatsProvider interface {
	Stats() bridge.Stats
}

// Deps holds the dependencies required by the server.
type Deps struct {
	Config      config.MetricsConfig
	Logger      *logging.Logger
	Pipeline    PipelineStatus
	Gatherer    prometheus.Gatherer
	Stats       StatsProvider         // optional
	DeadLetters deadletter.Repository // optional; route returns 404 without it
	Version     string
}

// Server is the operator HTTP server.
type Server struct {
	cfg         config.MetricsConfig
	logger      *logging.Logger
	pipeline    PipelineStatus
	gatherer    prometheus.Gatherer
	stats       StatsProvider
	deadLetters deadletter.Repository
	version     string
	startTime   time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		pipeline:    deps.Pipeline,
		gatherer:    deps.Gatherer,
		stats:       deps.Stats,
		deadLetters: deps.DeadLetters,
		version:     deps.Version,
		startTime:   time.Now(),
	}, nil
}

// Start binds the listen address and serves in the background.
// A bind failure is returned directly.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddress(), err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info("operator HTTP server starting", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("operator HTTP server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("operator HTTP server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down operator HTTP server: %w", err)
	}
	return nil
}
