package tsdb

import "errors"

// Sentinel errors for time-series database operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, tsdb.ErrWriteTransient) {
//	    // retry later
//	}
var (
	// ErrNotConnected indicates the client is not connected to the TSDB.
	ErrNotConnected = errors.New("tsdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrWriteTransient marks a write failure that may succeed on retry.
	ErrWriteTransient = errors.New("tsdb: transient write failure")

	// ErrWritePermanent marks a write failure that will not succeed on retry.
	ErrWritePermanent = errors.New("tsdb: permanent write failure")
)
