package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish/subscribe acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from the bridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials
//   - Session persistence, so QoS 1 messages survive reconnects
//   - In-order handler dispatch with manual acknowledgement
//   - No paho auto-reconnect; Client runs its own loop
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s", scheme, cfg.BrokerAddress()))

	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// A persistent session keeps unacknowledged messages on the broker
	// while the bridge is away.
	opts.SetCleanSession(cfg.CleanSession)

	// Handlers run one at a time in arrival order, and a message is only
	// acknowledged once its handler has handed it on.
	opts.SetOrderMatters(true)
	opts.SetAutoAckDisabled(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(cfg.GetKeepAlive())

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes the will if the bridge disconnects without a clean
// Close (crash, network failure). Retained, so new subscribers see the
// last known status. Skipped when no status topic is configured.
func configureLWT(opts *pahomqtt.ClientOptions, cfg config.MQTTConfig) {
	if cfg.StatusTopic == "" {
		return
	}
	opts.SetWill(cfg.StatusTopic, buildStatusPayload(statusOffline, cfg.Broker.ClientID, reasonUnexpected), 1, true)
}
