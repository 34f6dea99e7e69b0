package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/backoff"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/config"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/measurement"
)

// Client wraps paho.mqtt.golang for the sensor bridge.
//
// It owns the broker connection, re-establishes it with full-jitter
// backoff when it drops, restores subscriptions on every connect, and
// exposes received sensor messages as a single event stream.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// events carries sensor messages to the consumer. eventsMu guards the
	// close of events against handlers still sending.
	events   chan measurement.Event
	eventsMu sync.RWMutex

	// intakeStopped is closed by StopIntake; handlers stop handing over.
	intakeStopped chan struct{}
	intakeOnce    sync.Once

	closed    chan struct{}
	closeOnce sync.Once

	// Reconnection state. dial is swapped out in tests.
	backoff      *backoff.Backoff
	dial         func() error
	reconnecting bool
	// lostAgain records a connection loss reported while a reconnect loop
	// was already dialling; the loop must not exit on that dial's success.
	lostAgain   bool
	reconnectMu sync.Mutex
	reconnectWG  sync.WaitGroup

	// Callbacks for connection events (optional).
	onConnect      func()
	onDisconnect   func(err error)
	onReconnecting func(attempt int, delay time.Duration)
	callbackMu     sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's router goroutine in arrival order. A handler
// that blocks holds back every later message, which is how a slow
// consumer pushes back on the broker.
//
// Returns:
//   - nil: the message is acknowledged
//   - ErrClientClosed, ErrIntakeStopped: the message is left unacknowledged
//     for redelivery
//   - other error: logged, and the message is acknowledged
type MessageHandler func(topic string, payload []byte) error

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS, session)
//  2. Configures Last Will and Testament (LWT) on the status topic
//  3. Attempts the initial connection once, with a timeout
//
// A failed initial connection is returned as ErrConnectionFailed and is not
// retried. Connections lost after that are re-established in the background.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If initial connection fails within timeout
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	if err := c.dial(); err != nil {
		return nil, err
	}

	// The OnConnect handler runs asynchronously and may not have executed
	// yet, so mark the client connected here as well.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// newClient builds a Client without connecting it.
func newClient(cfg config.MQTTConfig) *Client {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg)

	base, maxDelay := cfg.GetReconnectDelays()
	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]subscription),
		events:        make(chan measurement.Event, eventBufferSize),
		intakeStopped: make(chan struct{}),
		closed:        make(chan struct{}),
		backoff:       backoff.New(base, maxDelay),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	c.dial = c.connectOnce
	return c
}

// connectOnce makes a single connection attempt.
func (c *Client) connectOnce() error {
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.publishOnlineStatus()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost unexpectedly.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}

	c.startReconnect()
}

// startReconnect launches the reconnect loop unless one is already running
// or the client is closed.
func (c *Client) startReconnect() {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	select {
	case <-c.closed:
		return
	default:
	}
	if c.reconnecting {
		c.lostAgain = true
		return
	}
	c.reconnecting = true
	c.reconnectWG.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop retries the connection with full-jitter backoff until it
// succeeds or the client is closed. Subscriptions are restored by the
// OnConnect handler.
//
// A loss reported while a dial is in flight (the broker accepting and then
// dropping the session, e.g. a duplicate client ID) keeps the loop going:
// startReconnect cannot start a second loop, so this one must retry.
func (c *Client) reconnectLoop() {
	defer c.reconnectWG.Done()

	for attempt := 0; ; attempt++ {
		delay := c.backoff.Next(attempt)

		c.callbackMu.RLock()
		callback := c.onReconnecting
		c.callbackMu.RUnlock()
		if callback != nil {
			callback(attempt+1, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-c.closed:
			t.Stop()
			c.finishReconnect()
			return
		case <-t.C:
		}

		c.reconnectMu.Lock()
		c.lostAgain = false
		c.reconnectMu.Unlock()

		err := c.dial()
		if err == nil {
			if c.finishReconnect() {
				if logger := c.getLogger(); logger != nil {
					logger.Info("MQTT reconnected", "attempts", attempt+1)
				}
				return
			}
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT connection lost again while reconnecting", "attempt", attempt+1)
			}
			attempt = -1
			continue
		}
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnect failed",
				"attempt", attempt+1,
				"error", err,
			)
		}
	}
}

// finishReconnect ends the reconnect loop unless a loss arrived during the
// last dial and the client is still open. It reports whether the loop ended.
func (c *Client) finishReconnect() bool {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	select {
	case <-c.closed:
	default:
		if c.lostAgain {
			c.lostAgain = false
			return false
		}
	}
	c.reconnecting = false
	return true
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if token.WaitTimeout(defaultPublishTimeout) && token.Error() == nil {
				return
			}
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT resubscribe failed", "topic", topic, "error", token.Error())
			}
		}(sub.topic)
	}
}

// publishOnlineStatus publishes the bridge's retained online status.
func (c *Client) publishOnlineStatus() {
	if c.cfg.StatusTopic == "" {
		return
	}
	payload := buildOnlinePayload(c.cfg.Broker.ClientID)
	c.client.Publish(c.cfg.StatusTopic, byte(c.cfg.QoS), true, payload)
}

// Close gracefully disconnects from the MQTT broker.
//
// It performs:
//  1. Stops intake, stops any reconnect loop and closes the event stream
//  2. Publishes graceful offline status (different from LWT crash status)
//  3. Disconnects from broker, waiting for pending operations
//
// Messages that could not be handed to the event stream are left
// unacknowledged so the broker redelivers them to the next session.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.StopIntake()

		c.reconnectMu.Lock()
		close(c.closed)
		c.reconnectMu.Unlock()
		c.reconnectWG.Wait()

		c.eventsMu.Lock()
		close(c.events)
		unread := len(c.events)
		c.eventsMu.Unlock()

		// These were acknowledged on hand-off. A consumer may still read
		// them, but if none does they are gone.
		if unread > 0 {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT events left unread at close", "count", unread)
			}
		}

		if c.IsConnected() && c.cfg.StatusTopic != "" {
			payload := buildOfflinePayload(c.cfg.Broker.ClientID)
			if err := c.Publish(c.cfg.StatusTopic, []byte(payload), byte(c.cfg.QoS), true); err != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Warn("MQTT offline status not published", "error", err)
				}
			}
		}

		c.client.Disconnect(defaultDisconnectQuiesce)

		c.connMu.Lock()
		c.connected = false
		c.connMu.Unlock()
	})

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnReconnecting sets a callback invoked before each reconnect attempt
// with the 1-based attempt number and the wait before it.
func (c *Client) SetOnReconnecting(callback func(attempt int, delay time.Duration)) {
	c.callbackMu.Lock()
	c.onReconnecting = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery, logging and
// manual acknowledgement.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		ack := true
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
			if ack {
				msg.Ack()
			}
		}()

		err := handler(msg.Topic(), msg.Payload())
		switch {
		case err == nil:
		case errors.Is(err, ErrClientClosed), errors.Is(err, ErrIntakeStopped):
			ack = false
		default:
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
