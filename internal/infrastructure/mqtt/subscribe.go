package mqtt

import (
	"fmt"
	"time"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/measurement"
)

// eventBufferSize is the number of received messages that may wait for the
// consumer before handlers start blocking.
const eventBufferSize = 16

// Subscribe registers a handler for messages on the specified topic.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "esp32/+/temperature" matches any device
//   - # (multi-level): "esp32/#" matches everything below esp32/
//
// Subscriptions are automatically restored if the connection is lost and
// reconnected (tracked internally).
//
// Parameters:
//   - topic: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := ValidateTopicFilter(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Track before subscribing so a reconnect racing with this call
	// restores it too.
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.untrack(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.untrack(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

func (c *Client) untrack(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscribeEvents subscribes to each topic at the configured QoS and routes
// every message into the stream returned by Events.
//
// It stops at the first failure; topics subscribed before it stay subscribed.
func (c *Client) SubscribeEvents(topics []string) error {
	if len(topics) == 0 {
		return fmt.Errorf("%w: no topics", ErrSubscribeFailed)
	}
	for _, topic := range topics {
		if err := c.Subscribe(topic, byte(c.cfg.QoS), c.handleEvent); err != nil {
			return fmt.Errorf("subscribing to %q: %w", topic, err)
		}
	}
	return nil
}

// Events returns the stream of received sensor messages.
//
// The same channel keeps delivering across reconnects; the consumer never
// needs to re-obtain it. It is closed only by Close.
func (c *Client) Events() <-chan measurement.Event {
	return c.events
}

// StopIntake stops handing received messages to the event stream. Messages
// arriving afterwards are left unacknowledged, so the broker redelivers them
// to the next session; events already in the stream stay readable.
//
// When StopIntake returns no handler is still sending, so the consumer can
// drain Events without blocking and knows it has seen everything that was
// acknowledged. Safe to call more than once.
func (c *Client) StopIntake() {
	c.intakeOnce.Do(func() { close(c.intakeStopped) })

	// Handlers hold the read lock while sending.
	c.eventsMu.Lock()
	c.eventsMu.Unlock() //nolint:staticcheck // empty critical section waits out in-flight handlers
}

// handleEvent hands one message to the event stream, blocking while the
// consumer is behind. After Close it returns ErrClientClosed, after
// StopIntake ErrIntakeStopped; in both cases the message is not
// acknowledged.
func (c *Client) handleEvent(topic string, payload []byte) error {
	ev := measurement.Event{
		Topic:      topic,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: time.Now().UTC(),
	}

	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()

	select {
	case <-c.closed:
		return ErrClientClosed
	case <-c.intakeStopped:
		return ErrIntakeStopped
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.intakeStopped:
		return ErrIntakeStopped
	}
}

// Unsubscribe removes a subscription and stops receiving messages for a topic.
//
// Any messages in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrack(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
