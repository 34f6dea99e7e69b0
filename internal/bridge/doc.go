// Package bridge connects the sensor message stream to the delivery pipeline.
//
// A Bridge runs two tasks under one errgroup:
//
//	ingest:   Source.Events() → Decoder → Pipeline.Submit
//	delivery: Pipeline.Run (batching, retries, writes)
//
// The tasks share only the pipeline's bounded buffer. When the buffer is
// full, Submit blocks the ingest task, which stops reading events, which
// in turn holds back the broker client.
//
// Events that cannot be decoded are dropped one by one: each drop is
// counted by reason and logged with the running count. They never reach
// the pipeline and never stop the bridge.
//
// Shutdown: cancelling the context stops ingest. If the source implements
// IntakeStopper it is told to stop handing over messages, and the events it
// already delivered (and acknowledged) are submitted within DrainTimeout.
// Only then is the pipeline's input closed and its own drain started, so
// the two drains run back to back. An event the pipeline no longer takes is
// dropped as ReasonShutdown. Closing the event stream skips the first drain.
// A Fatal pipeline (retry budget exhausted) ends Run with an error wrapping
// delivery.ErrRetryExhausted.
package bridge
