package tsdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	protocol "github.com/influxdata/line-protocol"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/measurement"
)

// maxErrorBody caps how much of a rejection body is kept in the error.
const maxErrorBody = 256

// Write sends measurements to VictoriaMetrics in one POST to /write.
//
// Returns:
//   - nil: the batch was accepted (2xx)
//   - ErrWritePermanent: encoding failed or the server rejected the batch (4xx)
//   - ErrWriteTransient: network failure, timeout, 408, 429 or 5xx
func (c *Client) Write(ctx context.Context, ms []measurement.Measurement) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: %w", ErrWriteTransient, ErrNotConnected)
	}
	if len(ms) == 0 {
		return nil
	}

	body, err := Encode(ms)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWritePermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/write", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWritePermanent, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	class := ErrWriteTransient
	if IsPermanentStatus(resp.StatusCode) {
		class = ErrWritePermanent
	}
	return fmt.Errorf("%w: HTTP %d: %s", class, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// Encode renders measurements as newline-terminated line protocol in input
// order. Tags and fields are sorted, so the output is deterministic.
func Encode(ms []measurement.Measurement) ([]byte, error) {
	var buf bytes.Buffer
	enc := protocol.NewEncoder(&buf)
	enc.SetFieldSortOrder(protocol.SortFields)
	enc.SetPrecision(time.Nanosecond)
	enc.FailOnFieldErr(true)

	for i, m := range ms {
		metric, err := protocol.New(
			m.Kind.String(),
			m.Tags(),
			map[string]interface{}{measurement.FieldValue: m.Value},
			m.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("building metric %d: %w", i, err)
		}
		if _, err := enc.Encode(metric); err != nil {
			return nil, fmt.Errorf("encoding measurement %d (%s): %w", i, m.Kind, err)
		}
	}
	return buf.Bytes(), nil
}

// IsPermanentStatus reports whether an HTTP status means the same request
// will keep failing.
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
