package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/delivery"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/logging"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/measurement"
)

const (
	// ReasonRejected labels measurements the pipeline refused on validation.
	ReasonRejected = "rejected"

	// ReasonShutdown labels events read during shutdown that the pipeline
	// would no longer take.
	ReasonShutdown = string(delivery.DropShutdown)
)

// DefaultDrainTimeout bounds the hand-off of buffered events at shutdown.
const DefaultDrainTimeout = 10 * time.Second

// Source delivers raw sensor messages. The channel is closed when the
// source shuts down.
type Source interface {
	Events() <-chan measurement.Event
}

// IntakeStopper is implemented by sources that can stop accepting new
// messages while leaving the ones already handed over readable. When the
// source implements it, ingest calls StopIntake on shutdown and then drains
// Events without blocking.
type IntakeStopper interface {
	StopIntake()
}

// Decoder turns a raw message into a measurement.
type Decoder interface {
	DecodeEvent(ev measurement.Event) (measurement.Measurement, error)
}

// Pipeline is the part of delivery.Pipeline the bridge drives.
type Pipeline interface {
	Submit(ctx context.Context, m measurement.Measurement) error
	CloseInput()
	Run(ctx context.Context) error
}

// Metrics receives ingest counters. Optional.
type Metrics interface {
	EventReceived()
	EventDropped(reason string)
}

// Deps holds the collaborators of a Bridge.
type Deps struct {
	Source   Source
	Decoder  Decoder
	Pipeline Pipeline
	Logger   *logging.Logger
	Metrics  Metrics

	// DrainTimeout bounds the shutdown hand-off of events the source has
	// already delivered. Defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// Stats is a snapshot of ingest counters.
type Stats struct {
	Received        uint64            `json:"received"`
	Submitted       uint64            `json:"submitted"`
	Dropped         uint64            `json:"dropped"`
	DroppedByReason map[string]uint64 `json:"dropped_by_reason"`
}

// Bridge owns the ingest and delivery tasks.
type Bridge struct {
	source   Source
	decoder  Decoder
	pipeline Pipeline
	logger   *logging.Logger
	metrics  Metrics

	drainTimeout time.Duration

	running   atomic.Bool
	received  atomic.Uint64
	submitted atomic.Uint64
	dropped   atomic.Uint64

	dropMu       sync.Mutex
	dropByReason map[string]uint64
}

// New creates a Bridge. Source, Decoder and Pipeline are required.
func New(deps Deps) (*Bridge, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if deps.Decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.DrainTimeout <= 0 {
		deps.DrainTimeout = DefaultDrainTimeout
	}

	return &Bridge{
		source:       deps.Source,
		decoder:      deps.Decoder,
		pipeline:     deps.Pipeline,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		drainTimeout: deps.DrainTimeout,
		dropByReason: make(map[string]uint64),
	}, nil
}

// Run relays events until ctx is cancelled, the source closes, or the
// pipeline fails. It returns nil after a graceful drain.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return delivery.ErrAlreadyRunning
	}

	g, gctx := errgroup.WithContext(ctx)

	// The pipeline outlives cancellation of ctx until ingest has handed
	// over everything the source already delivered. CloseInput then
	// starts its drain.
	pctx, stopPipeline := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPipeline()

	g.Go(func() error {
		defer stopPipeline()
		defer b.pipeline.CloseInput()
		return b.ingest(gctx)
	})

	g.Go(func() error {
		return b.pipeline.Run(pctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// pendingEvent is a decoded event not yet accepted by the pipeline.
type pendingEvent struct {
	ev measurement.Event
	m  measurement.Measurement
}

// ingest moves events from the source into the pipeline.
func (b *Bridge) ingest(ctx context.Context) error {
	events := b.source.Events()
	for {
		select {
		case <-ctx.Done():
			b.drainSource(ctx, events, nil, nil)
			return nil
		case ev, ok := <-events:
			if !ok {
				b.logger.Info("event source closed")
				return nil
			}
			m, ok := b.decode(ev)
			if !ok {
				continue
			}
			if err := b.submit(ctx, ev, m); err != nil {
				var stopped error
				if !isContextErr(err) {
					b.logger.Info("pipeline no longer accepting measurements", "reason", err)
					stopped = err
				}
				b.drainSource(ctx, events, &pendingEvent{ev: ev, m: m}, stopped)
				return nil
			}
		}
	}
}

// decode counts ev as received and decodes it. Undecodable events are
// dropped.
func (b *Bridge) decode(ev measurement.Event) (measurement.Measurement, bool) {
	b.received.Add(1)
	if b.metrics != nil {
		b.metrics.EventReceived()
	}

	m, err := b.decoder.DecodeEvent(ev)
	if err != nil {
		reason := string(measurement.ReasonOf(err))
		if reason == "" {
			reason = string(measurement.ReasonInvalidValue)
		}
		b.drop(ev, reason, err)
		return measurement.Measurement{}, false
	}
	return m, true
}

// submit hands m to the pipeline. A measurement the pipeline rejects is
// dropped and nil is returned; any other error means the pipeline is no
// longer taking measurements under ctx and m was not accepted.
func (b *Bridge) submit(ctx context.Context, ev measurement.Event, m measurement.Measurement) error {
	err := b.pipeline.Submit(ctx, m)
	switch {
	case err == nil:
		b.submitted.Add(1)
		return nil
	case isContextErr(err),
		errors.Is(err, delivery.ErrInputClosed),
		errors.Is(err, delivery.ErrStopped):
		return err
	default:
		b.drop(ev, ReasonRejected, err)
		return nil
	}
}

// drainSource runs once ingest stops. Every event the source has already
// delivered was acknowledged to the broker, so each one is either handed to
// the pipeline or dropped as ReasonShutdown; none is discarded silently.
//
// pending is the event in hand when ingest stopped, if any. stopped is the
// pipeline's refusal when that is why ingest stopped.
func (b *Bridge) drainSource(ctx context.Context, events <-chan measurement.Event, pending *pendingEvent, stopped error) {
	if s, ok := b.source.(IntakeStopper); ok {
		s.StopIntake()
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.drainTimeout)
	defer cancel()

	var handed, dropped int
	hand := func(p pendingEvent) {
		if stopped == nil {
			stopped = b.submit(dctx, p.ev, p.m)
			if stopped == nil {
				handed++
				return
			}
		}
		b.drop(p.ev, ReasonShutdown, stopped)
		dropped++
	}

	if pending != nil {
		hand(*pending)
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				b.logDrain(handed, dropped)
				return
			}
			if m, ok := b.decode(ev); ok {
				hand(pendingEvent{ev: ev, m: m})
			}
		default:
			b.logDrain(handed, dropped)
			return
		}
	}
}

func (b *Bridge) logDrain(handed, dropped int) {
	if handed == 0 && dropped == 0 {
		return
	}
	b.logger.Info("drained buffered sensor events",
		"handed_off", handed,
		"dropped", dropped,
	)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (b *Bridge) drop(ev measurement.Event, reason string, err error) {
	total := b.dropped.Add(1)

	b.dropMu.Lock()
	b.dropByReason[reason]++
	count := b.dropByReason[reason]
	b.dropMu.Unlock()

	if b.metrics != nil {
		b.metrics.EventDropped(reason)
	}

	b.logger.Warn("dropped sensor event",
		"topic", ev.Topic,
		"reason", reason,
		"count", count,
		"dropped_total", total,
		"error", err,
	)
}

// Stats returns the current ingest counters.
func (b *Bridge) Stats() Stats {
	b.dropMu.Lock()
	byReason := make(map[string]uint64, len(b.dropByReason))
	for k, v := range b.dropByReason {
		byReason[k] = v
	}
	b.dropMu.Unlock()

	return Stats{
		Received:        b.received.Load(),
		Submitted:       b.submitted.Load(),
		Dropped:         b.dropped.Load(),
		DroppedByReason: byReason,
	}
}
