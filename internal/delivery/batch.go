package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/measurement"
)

// Batch is a sealed, ordered group of measurements written in one call.
// Measurements keep arrival order. A Batch is never modified after sealing.
type Batch struct {
	ID           string
	Measurements []measurement.Measurement
	SealedAt     time.Time
}

// Len returns the number of measurements in b.
func (b Batch) Len() int {
	return len(b.Measurements)
}

func sealBatch(ms []measurement.Measurement) Batch {
	return Batch{
		ID:           uuid.NewString(),
		Measurements: ms,
		SealedAt:     time.Now(),
	}
}

// Sink writes batches to a time-series store.
//
// Write must return nil only when the whole batch was accepted. Failures
// should be wrapped with Transient or Permanent; unclassified errors are
// retried.
type Sink interface {
	Write(ctx context.Context, batch Batch) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, batch Batch) error

// Write calls f(ctx, batch).
func (f SinkFunc) Write(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}
