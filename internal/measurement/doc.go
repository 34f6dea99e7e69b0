// Package measurement defines the sensor reading model and the payload
// decoder that turns raw broker events into readings.
//
// A Measurement is a value type. Construct it with New, which rejects
// non-finite values, so that only finite readings reach the delivery
// pipeline.
//
// Decoding is pure: it performs no I/O and never retries. A *DecodeError
// is permanent for the event that produced it; callers count and drop it.
package measurement
