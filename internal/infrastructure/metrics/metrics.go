package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/delivery"
)

// Namespace prefixes every metric name.
const Namespace = "sensorbridge"

var (
	allStates = []delivery.State{
		delivery.StateIdle,
		delivery.StateAccumulating,
		delivery.StateFlushing,
		delivery.StateRetrying,
		delivery.StateFatal,
	}
	allConnStates = []delivery.ConnState{
		delivery.ConnDisconnected,
		delivery.ConnConnecting,
		delivery.ConnConnected,
		delivery.ConnDraining,
	}
)

// Collectors holds every bridge metric.
//
// Thread Safety: All methods are safe for concurrent use.
type Collectors struct {
	reg prometheus.Registerer

	eventsReceived  prometheus.Counter
	eventsDropped   *prometheus.CounterVec
	batchesFlushed  prometheus.Counter
	pointsWritten   prometheus.Counter
	batchRetries    prometheus.Counter
	batchesDropped  *prometheus.CounterVec
	pointsDropped   *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	flushAttempts   prometheus.Histogram
	pipelineState   *prometheus.GaugeVec
	connectionState *prometheus.GaugeVec
	reconnects      prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		reg: reg,
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_received_total",
			Help:      "Sensor messages received from the broker.",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_dropped_total",
			Help:      "Sensor messages discarded before batching, by reason.",
		}, []string{"reason"}),
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_flushed_total",
			Help:      "Batches accepted by the time-series store.",
		}),
		pointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "points_written_total",
			Help:      "Measurements accepted by the time-series store.",
		}),
		batchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batch_retries_total",
			Help:      "Batch write attempts that failed transiently and were scheduled again.",
		}),
		batchesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_dropped_total",
			Help:      "Batches discarded without being written, by reason.",
		}, []string{"reason"}),
		pointsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "points_dropped_total",
			Help:      "Measurements discarded inside dropped batches, by reason.",
		}, []string{"reason"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time from first write attempt to acceptance, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		flushAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "flush_attempts",
			Help:      "Write attempts needed per accepted batch.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		pipelineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pipeline_state",
			Help:      "1 for the delivery pipeline's current state, 0 otherwise.",
		}, []string{"state"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connection_state",
			Help:      "1 for the broker connection's current state, 0 otherwise.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mqtt_reconnect_attempts_total",
			Help:      "Broker reconnect attempts scheduled.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.eventsReceived, c.eventsDropped,
		c.batchesFlushed, c.pointsWritten, c.batchRetries,
		c.batchesDropped, c.pointsDropped,
		c.flushDuration, c.flushAttempts,
		c.pipelineState, c.connectionState,
		c.reconnects,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	c.StateChanged(delivery.StateIdle, delivery.StateIdle)
	c.ConnStateChanged(delivery.ConnDisconnected)
	return c, nil
}

// WatchBuffer registers gauges reading the pipeline buffer on each scrape.
func (c *Collectors) WatchBuffer(length, capacity func() int) error {
	lenGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "buffer_length",
		Help:      "Measurements waiting in the pipeline buffer.",
	}, func() float64 { return float64(length()) })
	capGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "buffer_capacity",
		Help:      "Maximum measurements the pipeline buffer holds.",
	}, func() float64 { return float64(capacity()) })

	if err := c.reg.Register(lenGauge); err != nil {
		return fmt.Errorf("registering buffer gauge: %w", err)
	}
	if err := c.reg.Register(capGauge); err != nil {
		return fmt.Errorf("registering buffer gauge: %w", err)
	}
	return nil
}

// EventReceived counts one message from the broker.
func (c *Collectors) EventReceived() {
	c.eventsReceived.Inc()
}

// EventDropped counts one message discarded before batching.
func (c *Collectors) EventDropped(reason string) {
	c.eventsDropped.WithLabelValues(reason).Inc()
}

// Reconnecting counts one scheduled reconnect attempt.
func (c *Collectors) Reconnecting(int, time.Duration) {
	c.reconnects.Inc()
}

// StateChanged implements delivery.Recorder.
func (c *Collectors) StateChanged(_, to delivery.State) {
	for _, s := range allStates {
		v := 0.0
		if s == to {
			v = 1
		}
		c.pipelineState.WithLabelValues(s.String()).Set(v)
	}
}

// ConnStateChanged implements delivery.Recorder.
func (c *Collectors) ConnStateChanged(to delivery.ConnState) {
	for _, s := range allConnStates {
		v := 0.0
		if s == to {
			v = 1
		}
		c.connectionState.WithLabelValues(s.String()).Set(v)
	}
}

// BatchFlushed implements delivery.Recorder.
func (c *Collectors) BatchFlushed(b delivery.Batch, attempts int, elapsed time.Duration) {
	c.batchesFlushed.Inc()
	c.pointsWritten.Add(float64(b.Len()))
	c.flushDuration.Observe(elapsed.Seconds())
	c.flushAttempts.Observe(float64(attempts))
}

// BatchRetried implements delivery.Recorder.
func (c *Collectors) BatchRetried(delivery.Batch, int, time.Duration, error) {
	c.batchRetries.Inc()
}

// BatchDropped implements delivery.Recorder.
func (c *Collectors) BatchDropped(b delivery.Batch, reason delivery.DropReason, _ error) {
	c.batchesDropped.WithLabelValues(string(reason)).Inc()
	c.pointsDropped.WithLabelValues(string(reason)).Add(float64(b.Len()))
}
