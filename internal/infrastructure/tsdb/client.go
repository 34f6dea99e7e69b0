package tsdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/config"
)

// Default timeouts for TSDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultHealthTimeout  = 5 * time.Second
)

// Client writes sensor batches to VictoriaMetrics using InfluxDB line protocol.
//
// Every Write is a single synchronous HTTP POST to /write. There is no
// internal batching: the caller hands over a complete batch and learns the
// outcome before deciding whether to retry.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	url        string
	httpClient *http.Client

	connected bool
	mu        sync.RWMutex
}

// Connect establishes a connection to VictoriaMetrics.
//
// It performs the following:
//  1. Creates an HTTP client
//  2. Verifies connectivity via GET /health
//
// Request deadlines come from the caller's context, so the HTTP client
// itself carries no timeout.
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the health check fails
func Connect(ctx context.Context, cfg config.VictoriaMetricsConfig) (*Client, error) {
	c := &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{},
		connected:  true,
	}

	healthCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := c.HealthCheck(healthCtx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// Close marks the client disconnected and releases idle connections.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.httpClient.CloseIdleConnections()
	return nil
}

// HealthCheck verifies the VictoriaMetrics connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tsdb health check: status %d", resp.StatusCode)
	}

	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which performs an active request.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
