package delivery

import "time"

// DropReason says why a batch was discarded.
type DropReason string

const (
	DropPermanent      DropReason = "permanent"
	DropRetryExhausted DropReason = "retry_exhausted"
	DropShutdown       DropReason = "shutdown"
	DropFatal          DropReason = "pipeline_fatal"
)

// Recorder observes pipeline activity. Implementations must be safe for
// concurrent use and must not block; they are called from Run.
type Recorder interface {
	StateChanged(from, to State)
	ConnStateChanged(to ConnState)
	BatchFlushed(b Batch, attempts int, elapsed time.Duration)
	BatchRetried(b Batch, attempt int, delay time.Duration, err error)
	BatchDropped(b Batch, reason DropReason, err error)
}

// NopRecorder ignores everything. Embed it to implement part of Recorder.
type NopRecorder struct{}

func (NopRecorder) StateChanged(State, State) {}
func (NopRecorder) ConnStateChanged(ConnState) {}
func (NopRecorder) BatchFlushed(Batch, int, time.Duration) {}
func (NopRecorder) BatchRetried(Batch, int, time.Duration, error) {}
func (NopRecorder) BatchDropped(Batch, DropReason, error) {}

type multiRecorder []Recorder

// MultiRecorder fans every call out to each of rs in order.
func MultiRecorder(rs ...Recorder) Recorder {
	var out multiRecorder
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiRecorder) StateChanged(from, to State) {
	for _, r := range m {
		r.StateChanged(from, to)
	}
}

func (m multiRecorder) ConnStateChanged(to ConnState) {
	for _, r := range m {
		r.ConnStateChanged(to)
	}
}

func (m multiRecorder) BatchFlushed(b Batch, attempts int, elapsed time.Duration) {
	for _, r := range m {
		r.BatchFlushed(b, attempts, elapsed)
	}
}

func (m multiRecorder) BatchRetried(b Batch, attempt int, delay time.Duration, err error) {
	for _, r := range m {
		r.BatchRetried(b, attempt, delay, err)
	}
}

func (m multiRecorder) BatchDropped(b Batch, reason DropReason, err error) {
	for _, r := range m {
		r.BatchDropped(b, reason, err)
	}
}
