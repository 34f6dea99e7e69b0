package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/backoff"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/measurement"
)

// Defaults applied by New to zero-valued Options fields.
const (
	DefaultBatchSize        = 100
	DefaultLinger           = 2 * time.Second
	DefaultBufferCapacity   = 1000
	DefaultWriteTimeout     = 10 * time.Second
	DefaultRetryBase        = time.Second
	DefaultRetryCap         = 30 * time.Second
	DefaultMaxRetryDuration = 5 * time.Minute
	DefaultDrainTimeout     = 10 * time.Second
)

// Logger is the logging interface used by the pipeline.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Backoff yields the wait before retry number attempt+1.
// *backoff.Backoff satisfies it.
type Backoff interface {
	Next(attempt int) time.Duration
}

// Options configures a Pipeline.
type Options struct {
	Sink Sink

	BatchSize      int
	Linger         time.Duration
	BufferCapacity int

	// WriteTimeout bounds a single sink write attempt.
	WriteTimeout time.Duration

	RetryBase        time.Duration
	RetryCap         time.Duration
	MaxRetryDuration time.Duration

	// DrainTimeout bounds the final writes made during shutdown.
	DrainTimeout time.Duration

	// Backoff overrides the retry delay policy built from RetryBase/RetryCap.
	Backoff Backoff

	Logger   Logger
	Recorder Recorder
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Linger <= 0 {
		o.Linger = DefaultLinger
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = DefaultBufferCapacity
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.RetryCap <= 0 {
		o.RetryCap = DefaultRetryCap
	}
	if o.MaxRetryDuration <= 0 {
		o.MaxRetryDuration = DefaultMaxRetryDuration
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.Backoff == nil {
		o.Backoff = backoff.New(o.RetryBase, o.RetryCap)
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	if o.Recorder == nil {
		o.Recorder = NopRecorder{}
	}
}

// Pipeline buffers measurements and delivers them to a Sink in batches.
//
// Submit and CloseInput belong to the single producer. Run belongs to the
// single consumer. State, ConnState, SetConnState, Fatal and BufferLen are
// safe to call from anywhere.
type Pipeline struct {
	opts Options

	input chan measurement.Measurement

	// gate serialises Submit against the moment intake stops, so nothing
	// can land in the buffer after it has been emptied.
	gate     sync.RWMutex
	stopping chan struct{}
	stopOnce sync.Once

	inputClosed chan struct{}
	closeOnce   sync.Once

	fatal     chan struct{}
	fatalOnce sync.Once

	running atomic.Bool
	state   atomic.Int32
	conn    atomic.Int32
}

// New creates a Pipeline. Zero-valued options take their defaults.
func New(opts Options) (*Pipeline, error) {
	if opts.Sink == nil {
		return nil, ErrNoSink
	}
	opts.applyDefaults()

	return &Pipeline{
		opts:        opts,
		input:       make(chan measurement.Measurement, opts.BufferCapacity),
		stopping:    make(chan struct{}),
		inputClosed: make(chan struct{}),
		fatal:       make(chan struct{}),
	}, nil
}

// Submit hands m to the pipeline, blocking while the buffer is full.
//
// Returns:
//   - nil: m is buffered and will be written or reported as dropped
//   - ctx.Err(): ctx ended before there was room
//   - ErrInputClosed: CloseInput was called
//   - ErrStopped: the pipeline is draining or fatal
//   - a measurement validation error: m was rejected
func (p *Pipeline) Submit(ctx context.Context, m measurement.Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}

	p.gate.RLock()
	defer p.gate.RUnlock()

	select {
	case <-p.inputClosed:
		return ErrInputClosed
	case <-p.stopping:
		return ErrStopped
	default:
	}

	select {
	case p.input <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.inputClosed:
		return ErrInputClosed
	case <-p.stopping:
		return ErrStopped
	}
}

// CloseInput tells Run that no more measurements will be submitted.
// Run then drains and returns nil.
func (p *Pipeline) CloseInput() {
	p.closeOnce.Do(func() { close(p.inputClosed) })
}

// Fatal is closed when the pipeline enters StateFatal.
func (p *Pipeline) Fatal() <-chan struct{} {
	return p.fatal
}

// State returns the current delivery state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// ConnState returns the last reported connection state.
func (p *Pipeline) ConnState() ConnState {
	return ConnState(p.conn.Load())
}

// SetConnState records a connection transition reported by the source.
// It has no effect once the pipeline is draining.
func (p *Pipeline) SetConnState(s ConnState) {
	for {
		cur := p.conn.Load()
		if ConnState(cur) == ConnDraining || ConnState(cur) == s {
			return
		}
		if p.conn.CompareAndSwap(cur, int32(s)) {
			p.opts.Recorder.ConnStateChanged(s)
			return
		}
	}
}

// BufferLen returns the number of measurements waiting in the buffer.
func (p *Pipeline) BufferLen() int {
	return len(p.input)
}

// BufferCapacity returns the configured buffer capacity.
func (p *Pipeline) BufferCapacity() int {
	return cap(p.input)
}

// Run consumes the buffer until ctx is cancelled, CloseInput is called, or
// the retry budget is exhausted. It returns nil after a graceful drain and
// an error wrapping ErrRetryExhausted on Fatal.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		pending = make([]measurement.Measurement, 0, p.opts.BatchSize)
		linger  *time.Timer
		lingerC <-chan time.Time
	)
	stopLinger := func() {
		if linger != nil {
			linger.Stop()
		}
		lingerC = nil
	}
	defer stopLinger()

	// flushPending seals and writes the pending batch. It reports whether
	// Run must return, and with what.
	flushPending := func() (bool, error) {
		stopLinger()
		b := sealBatch(pending)
		pending = make([]measurement.Measurement, 0, p.opts.BatchSize)

		switch ferr := p.flush(ctx, b); {
		case ferr == nil:
			if len(p.input) > 0 {
				p.setState(StateAccumulating)
			} else {
				p.setState(StateIdle)
			}
			return false, nil
		case errors.Is(ferr, errInterrupted):
			return true, p.drain(&b, nil)
		default:
			return true, ferr
		}
	}

	for {
		// Shutdown takes priority over buffered input.
		select {
		case <-ctx.Done():
			return p.drain(nil, pending)
		case <-p.inputClosed:
			return p.drain(nil, pending)
		default:
		}

		select {
		case <-ctx.Done():
			stopLinger()
			return p.drain(nil, pending)

		case <-p.inputClosed:
			stopLinger()
			return p.drain(nil, pending)

		case m := <-p.input:
			if len(pending) == 0 {
				p.setState(StateAccumulating)
				linger = time.NewTimer(p.opts.Linger)
				lingerC = linger.C
			}
			pending = append(pending, m)
			if len(pending) < p.opts.BatchSize {
				continue
			}
			if done, err := flushPending(); done {
				return err
			}

		case <-lingerC:
			lingerC = nil
			if len(pending) == 0 {
				continue
			}
			if done, err := flushPending(); done {
				return err
			}
		}
	}
}

// errInterrupted means shutdown arrived while a batch was waiting to retry.
var errInterrupted = errors.New("delivery: retry interrupted by shutdown")

// flush writes b until it succeeds, fails permanently, or the retry budget
// runs out. The batch is passed unchanged to every attempt.
func (p *Pipeline) flush(ctx context.Context, b Batch) error {
	start := time.Now()

	for attempt := 0; ; attempt++ {
		p.setState(StateFlushing)

		err := p.write(ctx, b)
		if err == nil {
			p.opts.Recorder.BatchFlushed(b, attempt+1, time.Since(start))
			p.opts.Logger.Debug("batch written",
				"batch_id", b.ID,
				"count", b.Len(),
				"attempts", attempt+1,
			)
			return nil
		}

		if IsPermanent(err) {
			p.dropBatch(b, DropPermanent, err)
			return nil
		}

		delay := p.opts.Backoff.Next(attempt)
		if time.Since(start)+delay > p.opts.MaxRetryDuration {
			p.dropBatch(b, DropRetryExhausted, err)
			p.enterFatal()
			return fmt.Errorf("%w: batch %s after %d attempts: %w", ErrRetryExhausted, b.ID, attempt+1, err)
		}

		p.setState(StateRetrying)
		p.opts.Recorder.BatchRetried(b, attempt+1, delay, err)
		p.opts.Logger.Warn("sink write failed, retrying",
			"batch_id", b.ID,
			"count", b.Len(),
			"retry", attempt+1,
			"delay", delay,
			"error", err,
		)

		if backoff.Sleep(ctx, delay) != nil {
			return errInterrupted
		}
	}
}

// write performs one attempt. Shutdown does not cancel an attempt that has
// started; only the write timeout does.
func (p *Pipeline) write(ctx context.Context, b Batch) error {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.WriteTimeout)
	defer cancel()
	return p.opts.Sink.Write(attemptCtx, b)
}

// stopIntake closes the buffer to new measurements and waits for any
// in-progress Submit to finish, so the buffer can be emptied safely.
func (p *Pipeline) stopIntake() {
	p.stopOnce.Do(func() { close(p.stopping) })
	p.gate.Lock() //nolint:staticcheck // empty critical section waits out in-flight Submit calls
	p.gate.Unlock()
}

// takeBuffered empties the buffer without blocking.
func (p *Pipeline) takeBuffered() []measurement.Measurement {
	var out []measurement.Measurement
	for {
		select {
		case m := <-p.input:
			out = append(out, m)
		default:
			return out
		}
	}
}

// drain makes one final attempt for the interrupted batch (if any), the
// partially accumulated measurements, and whatever remains buffered.
func (p *Pipeline) drain(interrupted *Batch, partial []measurement.Measurement) error {
	p.forceConnState(ConnDraining)
	p.stopIntake()

	var batches []Batch
	if interrupted != nil {
		batches = append(batches, *interrupted)
	}
	rest := append(partial, p.takeBuffered()...)
	for len(rest) > 0 {
		n := min(p.opts.BatchSize, len(rest))
		batches = append(batches, sealBatch(rest[:n:n]))
		rest = rest[n:]
	}

	if len(batches) == 0 {
		p.setState(StateIdle)
		p.opts.Logger.Info("pipeline drained", "batches", 0)
		return nil
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), p.opts.DrainTimeout)
	defer cancel()

	var written, dropped int
	for _, b := range batches {
		if err := drainCtx.Err(); err != nil {
			p.dropBatch(b, DropShutdown, err)
			dropped += b.Len()
			continue
		}

		p.setState(StateFlushing)
		start := time.Now()
		attemptCtx, cancelAttempt := context.WithTimeout(drainCtx, p.opts.WriteTimeout)
		err := p.opts.Sink.Write(attemptCtx, b)
		cancelAttempt()

		if err != nil {
			p.dropBatch(b, DropShutdown, err)
			dropped += b.Len()
			continue
		}
		p.opts.Recorder.BatchFlushed(b, 1, time.Since(start))
		written += b.Len()
	}

	p.setState(StateIdle)
	p.opts.Logger.Info("pipeline drained",
		"batches", len(batches),
		"written", written,
		"dropped", dropped,
	)
	return nil
}

// enterFatal stops the pipeline for good. Measurements still buffered are
// reported as dropped; there is no sink left to write them to.
func (p *Pipeline) enterFatal() {
	p.setState(StateFatal)
	p.forceConnState(ConnDraining)
	p.stopIntake()

	if rest := p.takeBuffered(); len(rest) > 0 {
		p.dropBatch(sealBatch(rest), DropFatal, ErrRetryExhausted)
	}

	p.fatalOnce.Do(func() { close(p.fatal) })
}

func (p *Pipeline) dropBatch(b Batch, reason DropReason, err error) {
	p.opts.Recorder.BatchDropped(b, reason, err)
	p.opts.Logger.Warn("batch dropped",
		"batch_id", b.ID,
		"count", b.Len(),
		"reason", string(reason),
		"error", err,
	)
}

func (p *Pipeline) setState(s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev != s {
		p.opts.Recorder.StateChanged(prev, s)
	}
}

func (p *Pipeline) forceConnState(s ConnState) {
	if prev := ConnState(p.conn.Swap(int32(s))); prev != s {
		p.opts.Recorder.ConnStateChanged(s)
	}
}
