// Sensor Bridge - ESP32 MQTT to time-series relay
//
// This is the main entry point for the sensor bridge. It subscribes to the
// DHT22 topics published by the ESP32 firmware, decodes each reading into a
// tagged measurement and delivers batches to InfluxDB or VictoriaMetrics.
//
// Delivery is at-least-once: failed batches are retried with backoff and
// only dropped (and journaled) when the sink rejects them outright or the
// retry budget is spent.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/api"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/bridge"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/deadletter"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/delivery"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/config"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/database"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/influxdb"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/logging"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/metrics"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/mqtt"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/tsdb"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/measurement"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupCheckTimeout bounds the health checks run before relaying starts.
const startupCheckTimeout = 10 * time.Second

func main() {
	// Cancel on Ctrl+C or SIGTERM so the pipeline can drain.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil after a graceful shutdown, or the failure that stopped the
//     bridge (including an exhausted retry budget)
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting sensor bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	instruments, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// Dead letter journal (optional)
	recorders := []delivery.Recorder{instruments}
	var deadLetters deadletter.Repository
	var db *database.DB
	if cfg.DeadLetter.Enabled {
		db, err = openDeadLetterStore(ctx, cfg.DeadLetter)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing dead letter store")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing dead letter store", "error", closeErr)
			}
		}()

		repo := deadletter.NewSQLiteRepository(db.DB)
		journal := deadletter.NewJournal(repo, log.Component("deadletter"))
		// Registered after the db close so queued entries land first.
		defer journal.Close() //nolint:errcheck // Close always returns nil

		deadLetters = repo
		recorders = append(recorders, journal)
		log.Info("dead letter journal enabled", "path", cfg.DeadLetter.Path)
	} else {
		log.Info("dead letter journal disabled")
	}

	// Time-series sink
	sink, err := connectSink(ctx, cfg.Sink)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing sink connection", "backend", sink.backend)
		if closeErr := sink.Close(); closeErr != nil {
			log.Error("error closing sink", "error", closeErr)
		}
	}()
	log.Info("sink connected", "backend", sink.backend)

	pipeline, err := delivery.New(delivery.Options{
		Sink:             sink,
		BatchSize:        cfg.Pipeline.BatchSize,
		Linger:           cfg.Pipeline.Linger,
		BufferCapacity:   cfg.Pipeline.BufferCapacity,
		WriteTimeout:     cfg.Sink.WriteTimeout,
		RetryBase:        cfg.Pipeline.Retry.InitialDelay,
		RetryCap:         cfg.Pipeline.Retry.MaxDelay,
		MaxRetryDuration: cfg.Pipeline.Retry.MaxDuration,
		DrainTimeout:     cfg.Pipeline.DrainTimeout,
		Logger:           log.Component("delivery"),
		Recorder:         delivery.MultiRecorder(recorders...),
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	if err := instruments.WatchBuffer(pipeline.BufferLen, pipeline.BufferCapacity); err != nil {
		return fmt.Errorf("registering buffer metrics: %w", err)
	}

	// Connect to MQTT broker
	pipeline.SetConnState(delivery.ConnConnecting)
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	pipeline.SetConnState(delivery.ConnConnected)
	log.Info("MQTT connected",
		"broker", cfg.MQTT.BrokerAddress(),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttLog := log.Component("mqtt")
	mqttClient.SetLogger(mqttLog)
	mqttClient.SetOnConnect(func() {
		pipeline.SetConnState(delivery.ConnConnected)
	})
	mqttClient.SetOnDisconnect(func(error) {
		pipeline.SetConnState(delivery.ConnDisconnected)
	})
	mqttClient.SetOnReconnecting(func(attempt int, delay time.Duration) {
		pipeline.SetConnState(delivery.ConnConnecting)
		instruments.Reconnecting(attempt, delay)
		mqttLog.Info("MQTT reconnecting", "attempt", attempt, "delay", delay)
	})

	if err := mqttClient.SubscribeEvents(cfg.MQTT.Topics); err != nil {
		return fmt.Errorf("subscribing to sensor topics: %w", err)
	}
	log.Info("subscribed to sensor topics", "topics", cfg.MQTT.Topics)

	relay, err := bridge.New(bridge.Deps{
		Source:   mqttClient,
		Decoder:  measurement.NewDecoder(cfg.Site.Sensor, cfg.Site.Location),
		Pipeline: pipeline,
		Logger:   log.Component("bridge"),
		Metrics:  instruments,

		DrainTimeout: cfg.Pipeline.DrainTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Operator HTTP server (optional)
	if cfg.Metrics.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:      cfg.Metrics,
			Logger:      log.Component("api"),
			Pipeline:    pipeline,
			Gatherer:    registry,
			Stats:       relay,
			DeadLetters: deadLetters,
			Version:     version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating operator server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting operator server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing operator server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, sink.measurementWriter); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("relaying sensor readings",
		"sensor", cfg.Site.Sensor,
		"location", cfg.Site.Location,
		"batch_size", cfg.Pipeline.BatchSize,
		"linger", cfg.Pipeline.Linger,
	)

	// Blocks until shutdown completes or delivery gives up.
	runErr := relay.Run(ctx)

	stats := relay.Stats()
	log.Info("sensor bridge stopped",
		"received", stats.Received,
		"submitted", stats.Submitted,
		"dropped", stats.Dropped,
		"pipeline_state", pipeline.State().String(),
	)

	if runErr != nil {
		return fmt.Errorf("relay: %w", runErr)
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SENSORBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SENSORBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDeadLetterStore opens the SQLite journal and applies its migrations.
func openDeadLetterStore(ctx context.Context, cfg config.DeadLetterConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening dead letter store: %w", err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("migrating dead letter store: %w", err)
	}
	return db, nil
}

// measurementWriter is the common surface of the influxdb and tsdb clients.
type measurementWriter interface {
	Write(ctx context.Context, ms []measurement.Measurement) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// sinkAdapter turns a backend client into a delivery.Sink, mapping the
// backend's permanent-failure sentinel onto delivery.Permanent.
type sinkAdapter struct {
	measurementWriter
	backend   string
	permanent error
}

// Write sends one batch and classifies the failure.
func (s *sinkAdapter) Write(ctx context.Context, b delivery.Batch) error {
	err := s.measurementWriter.Write(ctx, b.Measurements)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, s.permanent):
		return delivery.Permanent(err)
	default:
		return delivery.Transient(err)
	}
}

// connectSink connects to the configured time-series backend.
func connectSink(ctx context.Context, cfg config.SinkConfig) (*sinkAdapter, error) {
	switch cfg.Backend {
	case config.SinkBackendInfluxDB:
		client, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		return &sinkAdapter{measurementWriter: client, backend: cfg.Backend, permanent: influxdb.ErrWritePermanent}, nil

	case config.SinkBackendVictoriaMetrics:
		client, err := tsdb.Connect(ctx, cfg.VictoriaMetrics)
		if err != nil {
			return nil, fmt.Errorf("connecting to VictoriaMetrics: %w", err)
		}
		return &sinkAdapter{measurementWriter: client, backend: cfg.Backend, permanent: tsdb.ErrWritePermanent}, nil

	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Dead letter store to check (nil when the journal is disabled)
//   - mqttClient: MQTT client to check
//   - sink: Time-series backend to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, sink measurementWriter) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("dead letter store: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if err := sink.HealthCheck(ctx); err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	return nil
}
