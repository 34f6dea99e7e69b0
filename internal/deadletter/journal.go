package deadletter

import (
	"context"
	"sync"
	"time"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/delivery"
)

const (
	defaultQueueSize     = 64
	defaultRecordTimeout = 5 * time.Second
)

// Logger is the subset of logging.Logger the journal uses.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Journal is a delivery.Recorder that persists dropped batches.
//
// BatchDropped never blocks the pipeline: entries are queued and written
// by a background goroutine. When the queue is full the entry is lost and
// a warning is logged.
type Journal struct {
	delivery.NopRecorder

	repo   Repository
	logger Logger
	queue  chan Entry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewJournal starts a journal writing to repo.
func NewJournal(repo Repository, logger Logger) *Journal {
	j := &Journal{
		repo:   repo,
		logger: logger,
		queue:  make(chan Entry, defaultQueueSize),
	}
	j.wg.Add(1)
	go j.loop()
	return j
}

// BatchDropped queues b for the journal.
func (j *Journal) BatchDropped(b delivery.Batch, reason delivery.DropReason, err error) {
	e := Entry{
		BatchID:   b.ID,
		Reason:    string(reason),
		Points:    PointsFrom(b.Measurements),
		SealedAt:  b.SealedAt,
		DroppedAt: time.Now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.warn("dead letter journal closed, batch not recorded", "batch_id", b.ID, "count", b.Len())
		return
	}

	select {
	case j.queue <- e:
	default:
		j.warn("dead letter queue full, batch not recorded", "batch_id", b.ID, "count", b.Len())
	}
}

// Close writes everything still queued and stops the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	j.wg.Wait()
	return nil
}

func (j *Journal) loop() {
	defer j.wg.Done()
	for e := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRecordTimeout)
		if err := j.repo.Record(ctx, &e); err != nil && j.logger != nil {
			j.logger.Error("recording dead letter failed",
				"batch_id", e.BatchID,
				"count", len(e.Points),
				"error", err,
			)
		}
		cancel()
	}
}

func (j *Journal) warn(msg string, args ...any) {
	if j.logger != nil {
		j.logger.Warn(msg, args...)
	}
}
