// Package influxdb writes sensor measurements to InfluxDB 2.x.
//
// It wraps the official influxdb-client-go v2 library's blocking write API:
// one Write call sends one batch in one HTTP request and returns only when
// the server has answered. Failures are classified so the caller can decide
// whether to retry:
//
//	network error, timeout, 408, 429, 5xx  → ErrWriteTransient
//	other 4xx (bad points, auth, bucket)   → ErrWritePermanent
//
// # Point Model
//
// Each measurement becomes one point:
//
//	temperature,location=esp32,sensor=DHT22 value=21.7 1772366400000000000
//
// Encoding goes through the line-protocol encoder with sorted tags and
// fields, so re-sending an unchanged batch produces identical bytes.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.Sink.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Write(ctx, batch.Measurements)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
