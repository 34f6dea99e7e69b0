// Package delivery implements the at-least-once pipeline between the
// payload decoder and the time-series sink.
//
// One producer feeds measurements through Submit into a bounded buffer.
// Run, the single consumer, accumulates them into batches, seals a batch
// when it reaches the configured size or its linger time elapses, and
// writes it to the Sink. Exactly one batch is in flight at a time.
//
// # State machine
//
//	Idle ──first measurement──▶ Accumulating ──size/linger──▶ Flushing
//	Flushing ──ok──▶ Idle | Accumulating
//	Flushing ──transient──▶ Retrying ──backoff──▶ Flushing (same batch)
//	Flushing ──permanent──▶ batch dropped, pipeline continues
//	Retrying ──budget exhausted──▶ Fatal (terminal)
//
// A retried batch is never modified, so every attempt carries identical
// wire content. Duplicates at the sink are acceptable.
//
// # Backpressure
//
// Submit blocks while the buffer is full. While a batch is being written
// Run does not read the buffer, so a stalled sink stalls the producer
// instead of growing memory.
//
// # Shutdown
//
// Cancelling the Run context, or calling CloseInput, stops intake. The
// pending batch and everything left in the buffer get one best-effort
// write each, bounded by the drain timeout. Anything that still cannot be
// written is reported to the Recorder as dropped. Sink writes in progress
// are never cancelled by shutdown; they are bounded by the write timeout.
package delivery
