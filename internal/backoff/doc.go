// Package backoff computes capped exponential delays with full jitter.
//
// The same policy drives both broker reconnection and sink write retries:
//
//	delay(n) = rand[0, min(cap, base * 2^n))
//
// A Backoff is safe for concurrent use.
package backoff
