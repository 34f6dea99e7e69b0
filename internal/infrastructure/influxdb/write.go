package influxdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	http2 "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	protocol "github.com/influxdata/line-protocol"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/measurement"
)

// NewPoint converts a Measurement into an InfluxDB point:
// measurement name from the kind, tags sensor and location, one float
// field "value", and the observation time.
func NewPoint(m measurement.Measurement) *write.Point {
	return write.NewPoint(
		m.Kind.String(),
		m.Tags(),
		map[string]interface{}{
			measurement.FieldValue: m.Value,
		},
		m.ObservedAt,
	)
}

// Encode renders measurements as line protocol, one line per measurement,
// in input order. Tags and fields are sorted, so the same input always
// produces the same bytes.
func Encode(ms []measurement.Measurement) ([]string, error) {
	var buf bytes.Buffer
	enc := protocol.NewEncoder(&buf)
	enc.SetFieldSortOrder(protocol.SortFields)
	enc.SetPrecision(time.Nanosecond)
	enc.FailOnFieldErr(true)

	lines := make([]string, 0, len(ms))
	for i, m := range ms {
		buf.Reset()
		if _, err := enc.Encode(NewPoint(m)); err != nil {
			return nil, fmt.Errorf("encoding measurement %d (%s): %w", i, m.Kind, err)
		}
		lines = append(lines, strings.TrimSuffix(buf.String(), "\n"))
	}
	return lines, nil
}

// Write sends measurements to the bucket in a single request and waits for
// the result.
//
// Returns:
//   - nil: the server accepted every point
//   - ErrWritePermanent: the batch can never succeed as-is (bad points,
//     rejected credentials, missing bucket)
//   - ErrWriteTransient: the write may succeed later (network failure,
//     timeout, 429, 5xx)
func (c *Client) Write(ctx context.Context, ms []measurement.Measurement) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: %w", ErrWriteTransient, ErrNotConnected)
	}
	if len(ms) == 0 {
		return nil
	}

	lines, err := Encode(ms)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWritePermanent, err)
	}

	if err := c.writeAPI.WriteRecord(ctx, lines...); err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// classifyWriteError wraps err with ErrWriteTransient or ErrWritePermanent.
func classifyWriteError(err error) error {
	if IsPermanentStatus(statusCode(err)) {
		return fmt.Errorf("%w: %w", ErrWritePermanent, err)
	}
	return fmt.Errorf("%w: %w", ErrWriteTransient, err)
}

// statusCode extracts the HTTP status from an InfluxDB client error, or 0
// when the request never got a response.
func statusCode(err error) int {
	var herr *http2.Error
	if errors.As(err, &herr) && herr != nil {
		return herr.StatusCode
	}
	return 0
}

// IsPermanentStatus reports whether an HTTP status means retrying the same
// request cannot help. 429 and 408 are client errors that are worth retrying.
func IsPermanentStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return false
	case code >= 400 && code < 500:
		return true
	default:
		return false
	}
}
