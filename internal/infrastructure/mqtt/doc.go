// Package mqtt is the sensor bridge's message source: it connects to the
// broker, subscribes to the sensor topics and turns every received message
// into a measurement.Event on a single stream.
//
// This package manages:
//   - Connection to the broker, with its own reconnect loop
//   - Topic subscriptions, restored after every reconnect
//   - The event stream returned by Events
//   - Retained online/offline status with Last Will and Testament
//
// # Delivery
//
// The client uses a persistent session (clean_session: false) at QoS 1.
// Handlers run in arrival order and a message is acknowledged only after it
// has been handed to the event stream. While the consumer is behind, the
// handler blocks and paho stops reading from the socket, which pushes back
// on the broker. Messages still unacknowledged when the connection drops are
// redelivered by the broker on the next session.
//
// A handler blocked for longer than the keep-alive interval can cause the
// broker to drop the connection. The reconnect loop then restores it, and
// the persistent session preserves what was not yet acknowledged.
//
// # Reconnection
//
// paho's auto-reconnect is disabled. After an unexpected disconnect the
// client retries with exponential backoff and full jitter (base and cap
// from mqtt.reconnect), resubscribes in the on-connect handler, and keeps
// feeding the same Events channel. The initial Connect is not retried:
// failure there is returned as ErrConnectionFailed.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.SubscribeEvents(cfg.MQTT.Topics); err != nil {
//	    return err
//	}
//	for ev := range client.Events() {
//	    // decode ev
//	}
package mqtt
