package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// maxPayloadSize caps outbound messages. Sensor readings are a few bytes;
// anything near this is a bug.
const maxPayloadSize = 1 << 20

// Bridge status values published on the status topic.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonGraceful   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// statusMessage is the retained JSON document on the status topic.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildStatusPayload(status, clientID, reason string) string {
	//nolint:errcheck // A struct of strings always marshals
	b, _ := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(b)
}

func buildOnlinePayload(clientID string) string {
	return buildStatusPayload(statusOnline, clientID, "")
}

func buildOfflinePayload(clientID string) string {
	return buildStatusPayload(statusOffline, clientID, reasonGraceful)
}

// Publish sends payload to topic and, for QoS 1 and 2, waits for the
// broker's acknowledgement. The bridge only publishes its own status; the
// method is exported for tests and tooling that inject readings.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	switch {
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no ack within %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
