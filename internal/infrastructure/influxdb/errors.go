package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influxdb.ErrWritePermanent) {
//	    // drop the batch
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteTransient marks a write failure that may succeed on retry.
	ErrWriteTransient = errors.New("influxdb: transient write failure")

	// ErrWritePermanent marks a write failure that will not succeed on retry.
	ErrWritePermanent = errors.New("influxdb: permanent write failure")
)
