// Package tsdb writes sensor measurements to VictoriaMetrics.
//
// VictoriaMetrics accepts InfluxDB line protocol on its /write endpoint, so
// this package encodes batches exactly like the influxdb package and posts
// them over plain HTTP. Each measurement becomes one line:
//
//	temperature,location=esp32,sensor=DHT22 value=21.7 1772366400000000000
//
// VictoriaMetrics stores this as the series temperature_value{location,sensor}.
//
// # Usage
//
//	client, err := tsdb.Connect(ctx, cfg.Sink.VictoriaMetrics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Write(ctx, batch.Measurements)
//
// # Error Handling
//
// Write is synchronous. Failures wrap ErrWriteTransient (network, 408, 429,
// 5xx) or ErrWritePermanent (encoding, other 4xx).
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package tsdb
