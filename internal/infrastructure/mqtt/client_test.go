package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/backoff"
	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
// Broker-backed tests expect Mosquitto at 127.0.0.1:1883 and skip otherwise.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "sensorbridge-test",
		},
		QoS:          1,
		KeepAlive:    60,
		CleanSession: false,
		Topics:       []string{"esp32/dht/temperature", "esp32/dht/humidity"},
		StatusTopic:  "sensorbridge/test/status",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// skipIfNoBroker skips the test when nothing listens on the test broker port.
func skipIfNoBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", testConfig().BrokerAddress(), 200*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available at 127.0.0.1:1883")
	}
	conn.Close()
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
	acked   atomic.Int32
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              { m.acked.Add(1) }

// recordingLogger captures warnings and errors.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }

func (l *recordingLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "sensorbridge-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "sensorbridge-test")
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want bridge/secret", opts.Username, opts.Password)
	}
	if opts.CleanSession {
		t.Error("CleanSession = true, want persistent session")
	}
	if !opts.Order {
		t.Error("Order = false, want in-order handler dispatch")
	}
	if !opts.AutoAckDisabled {
		t.Error("AutoAckDisabled = false, want manual acknowledgement")
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want client-managed reconnection")
	}
	if opts.KeepAlive != 60 {
		t.Errorf("KeepAlive = %d, want 60", opts.KeepAlive)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without broker.tls")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v, want MinVersion TLS 1.2", opts.TLSConfig)
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg)

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != cfg.StatusTopic {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, cfg.StatusTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will retained=%v qos=%d, want retained qos 1", opts.WillRetained, opts.WillQos)
	}

	var will map[string]string
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if will["status"] != "offline" || will["reason"] != "unexpected_disconnect" {
		t.Errorf("will payload = %v", will)
	}
}

func TestConfigureLWT_NoStatusTopic(t *testing.T) {
	cfg := testConfig()
	cfg.StatusTopic = ""
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg)

	if opts.WillEnabled {
		t.Error("WillEnabled = true without a status topic")
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
		wantReason string
	}{
		{name: "online", payload: buildOnlinePayload("c1"), wantStatus: "online"},
		{name: "offline", payload: buildOfflinePayload("c1"), wantStatus: "offline", wantReason: "graceful_shutdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]string
			if err := json.Unmarshal([]byte(tt.payload), &got); err != nil {
				t.Fatalf("payload %q is not JSON: %v", tt.payload, err)
			}
			if got["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", got["status"], tt.wantStatus)
			}
			if got["reason"] != tt.wantReason {
				t.Errorf("reason = %q, want %q", got["reason"], tt.wantReason)
			}
			if got["client_id"] != "c1" {
				t.Errorf("client_id = %q, want c1", got["client_id"])
			}
		})
	}
}

// =============================================================================
// Topic Validation Tests
// =============================================================================

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"esp32/dht/temperature", false},
		{"esp32/+/temperature", false},
		{"esp32/#", false},
		{"#", false},
		{"+", false},
		{"", true},
		{"esp32/#/temperature", true},
		{"esp32/dht+/temperature", true},
		{"esp32/dht#", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := ValidateTopicFilter(tt.filter)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTopicFilter(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("error = %v, want ErrInvalidTopic", err)
			}
		})
	}
}

func TestValidateTopicName(t *testing.T) {
	if err := ValidateTopicName("sensorbridge/status"); err != nil {
		t.Errorf("ValidateTopicName() error = %v", err)
	}
	for _, bad := range []string{"", "a/+/b", "a/#"} {
		if err := ValidateTopicName(bad); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateTopicName(%q) error = %v, want ErrInvalidTopic", bad, err)
		}
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestWrapHandler_AcksAfterHandler(t *testing.T) {
	c := newClient(testConfig())
	msg := &fakeMessage{topic: "t", payload: []byte("1")}

	c.wrapHandler(func(string, []byte) error { return nil })(nil, msg)

	if msg.acked.Load() != 1 {
		t.Errorf("ack count = %d, want 1", msg.acked.Load())
	}
}

func TestWrapHandler_ErrorStillAcks(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)
	msg := &fakeMessage{topic: "t"}

	c.wrapHandler(func(string, []byte) error { return errors.New("bad") })(nil, msg)

	if msg.acked.Load() != 1 {
		t.Errorf("ack count = %d, want 1", msg.acked.Load())
	}
	if !logger.has("MQTT handler returned error") {
		t.Error("handler error was not logged")
	}
}

func TestWrapHandler_ClosedLeavesUnacked(t *testing.T) {
	c := newClient(testConfig())
	msg := &fakeMessage{topic: "t"}

	c.wrapHandler(func(string, []byte) error { return ErrClientClosed })(nil, msg)

	if msg.acked.Load() != 0 {
		t.Errorf("ack count = %d, want 0", msg.acked.Load())
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)
	msg := &fakeMessage{topic: "t"}

	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, msg)

	if !logger.has("MQTT handler panic recovered") {
		t.Error("panic was not logged")
	}
	if msg.acked.Load() != 1 {
		t.Errorf("ack count = %d, want 1", msg.acked.Load())
	}
}

// =============================================================================
// Event Stream Tests
// =============================================================================

func TestHandleEvent_DeliversCopy(t *testing.T) {
	c := newClient(testConfig())
	payload := []byte("21.7")

	if err := c.handleEvent("esp32/dht/temperature", payload); err != nil {
		t.Fatalf("handleEvent() error = %v", err)
	}
	payload[0] = 'X'

	ev := <-c.Events()
	if ev.Topic != "esp32/dht/temperature" {
		t.Errorf("Topic = %q", ev.Topic)
	}
	if string(ev.Payload) != "21.7" {
		t.Errorf("Payload = %q, want %q (copy)", ev.Payload, "21.7")
	}
	if ev.ReceivedAt.IsZero() {
		t.Error("ReceivedAt is zero")
	}
}

func TestHandleEvent_BlocksUntilClose(t *testing.T) {
	c := newClient(testConfig())
	for i := 0; i < eventBufferSize; i++ {
		if err := c.handleEvent("a/temperature", []byte("1")); err != nil {
			t.Fatalf("handleEvent() error = %v", err)
		}
	}

	result := make(chan error, 1)
	go func() { result <- c.handleEvent("a/temperature", []byte("2")) }()

	select {
	case err := <-result:
		t.Fatalf("handleEvent() returned %v on a full stream, want it to block", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrIntakeStopped) {
			t.Errorf("handleEvent() error = %v, want ErrIntakeStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handleEvent() still blocked after Close")
	}

	// Buffered events remain readable, then the stream ends.
	n := 0
	for range c.Events() {
		n++
	}
	if n != eventBufferSize {
		t.Errorf("drained %d events, want %d", n, eventBufferSize)
	}
}

func TestStopIntake_LeavesLaterMessagesUnacked(t *testing.T) {
	c := newClient(testConfig())
	handler := c.wrapHandler(c.handleEvent)

	var accepted []*fakeMessage
	for i := 0; i < eventBufferSize; i++ {
		msg := &fakeMessage{topic: "a/temperature", payload: []byte(strconv.Itoa(i))}
		handler(nil, msg)
		accepted = append(accepted, msg)
	}

	// One more handler blocks on the full stream.
	blocked := &fakeMessage{topic: "a/temperature", payload: []byte("blocked")}
	done := make(chan struct{})
	go func() {
		handler(nil, blocked)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	c.StopIntake()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopIntake() returned with a handler still blocked")
	}

	late := &fakeMessage{topic: "a/temperature", payload: []byte("late")}
	handler(nil, late)

	for i, msg := range accepted {
		if msg.acked.Load() != 1 {
			t.Errorf("message %d ack count = %d, want 1", i, msg.acked.Load())
		}
	}
	if blocked.acked.Load() != 0 {
		t.Errorf("blocked message ack count = %d, want 0", blocked.acked.Load())
	}
	if late.acked.Load() != 0 {
		t.Errorf("late message ack count = %d, want 0", late.acked.Load())
	}

	// Everything acknowledged is still readable without blocking.
	n := 0
	for {
		select {
		case <-c.Events():
			n++
			continue
		default:
		}
		break
	}
	if n != eventBufferSize {
		t.Errorf("drained %d events, want %d", n, eventBufferSize)
	}
}

func TestStopIntake_Idempotent(t *testing.T) {
	c := newClient(testConfig())
	c.StopIntake()
	c.StopIntake()

	if err := c.handleEvent("a/temperature", []byte("1")); !errors.Is(err, ErrIntakeStopped) {
		t.Errorf("handleEvent() error = %v, want ErrIntakeStopped", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestWrapHandler_IntakeStoppedLeavesUnacked(t *testing.T) {
	c := newClient(testConfig())
	msg := &fakeMessage{topic: "t"}

	c.wrapHandler(func(string, []byte) error { return ErrIntakeStopped })(nil, msg)

	if msg.acked.Load() != 0 {
		t.Errorf("ack count = %d, want 0", msg.acked.Load())
	}
}

func TestClose_LogsUnreadEvents(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	for i := 0; i < 3; i++ {
		if err := c.handleEvent("a/temperature", []byte("1")); err != nil {
			t.Fatalf("handleEvent() error = %v", err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !logger.has("MQTT events left unread at close") {
		t.Error("unread events at close were not logged")
	}
}

func TestClose_NoUnreadWarningWhenDrained(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	if err := c.handleEvent("a/temperature", []byte("1")); err != nil {
		t.Fatalf("handleEvent() error = %v", err)
	}
	<-c.Events()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if logger.has("MQTT events left unread at close") {
		t.Error("unread warning logged with an empty stream")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := newClient(testConfig())
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := c.handleEvent("a/temperature", []byte("1")); !errors.Is(err, ErrClientClosed) {
		t.Errorf("handleEvent() after Close error = %v, want ErrClientClosed", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

// =============================================================================
// Reconnect Tests
// =============================================================================

func TestReconnectLoop_RetriesUntilConnected(t *testing.T) {
	c := newClient(testConfig())
	c.backoff = backoff.NewWithSource(time.Millisecond, 2*time.Millisecond, rand.NewPCG(1, 2))

	var dials atomic.Int32
	connected := make(chan struct{})
	c.dial = func() error {
		if dials.Add(1) < 3 {
			return ErrConnectionFailed
		}
		close(connected)
		return nil
	}

	var mu sync.Mutex
	var attempts []int
	c.SetOnReconnecting(func(attempt int, delay time.Duration) {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
		if delay < 0 || delay >= 2*time.Millisecond {
			t.Errorf("delay = %v, want within [0, 2ms)", delay)
		}
	})
	disconnected := make(chan error, 1)
	c.SetOnDisconnect(func(err error) { disconnected <- err })

	c.handleDisconnect(errors.New("connection reset"))

	select {
	case err := <-disconnected:
		if err == nil || err.Error() != "connection reset" {
			t.Errorf("disconnect error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect not called")
	}

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect loop never succeeded")
	}
	c.reconnectWG.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("reconnect attempts = %v, want [1 2 3]", attempts)
	}
}

func TestReconnectLoop_SingleLoop(t *testing.T) {
	c := newClient(testConfig())
	c.backoff = backoff.NewWithSource(time.Millisecond, 2*time.Millisecond, rand.NewPCG(1, 2))

	// Hold the first loop before its dial until every loss is reported.
	gate := make(chan struct{})
	var once sync.Once
	c.SetOnReconnecting(func(int, time.Duration) {
		once.Do(func() { <-gate })
	})
	var dials atomic.Int32
	c.dial = func() error {
		dials.Add(1)
		return nil
	}

	c.handleDisconnect(errors.New("a"))
	c.handleDisconnect(errors.New("b"))
	c.handleDisconnect(errors.New("c"))
	close(gate)

	time.Sleep(50 * time.Millisecond)
	c.reconnectWG.Wait()

	if got := dials.Load(); got != 1 {
		t.Errorf("dial calls = %d, want 1 (one loop at a time)", got)
	}
}

func TestReconnectLoop_LostDuringDial(t *testing.T) {
	c := newClient(testConfig())
	c.backoff = backoff.NewWithSource(time.Millisecond, 2*time.Millisecond, rand.NewPCG(1, 2))
	logger := &recordingLogger{}
	c.SetLogger(logger)

	// The broker accepts the session and drops it before dial returns.
	var dials atomic.Int32
	c.dial = func() error {
		if dials.Add(1) == 1 {
			c.handleDisconnect(errors.New("kicked"))
		}
		return nil
	}

	c.handleDisconnect(errors.New("gone"))

	deadline := time.Now().Add(2 * time.Second)
	for dials.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.reconnectWG.Wait()

	if got := dials.Load(); got != 2 {
		t.Errorf("dial calls = %d, want 2", got)
	}
	c.reconnectMu.Lock()
	reconnecting, lostAgain := c.reconnecting, c.lostAgain
	c.reconnectMu.Unlock()
	if reconnecting || lostAgain {
		t.Errorf("reconnecting = %v, lostAgain = %v after success, want both false", reconnecting, lostAgain)
	}
	if !logger.has("MQTT connection lost again while reconnecting") {
		t.Error("loss during dial was not logged")
	}
	if !logger.has("MQTT reconnected") {
		t.Error("final reconnect was not logged")
	}
}

func TestReconnectLoop_StopsOnClose(t *testing.T) {
	c := newClient(testConfig())
	c.backoff = backoff.NewWithSource(time.Hour, time.Hour, rand.NewPCG(1, 2))
	c.dial = func() error { return ErrConnectionFailed }

	c.handleDisconnect(errors.New("gone"))

	done := make(chan struct{})
	go func() {
		_ = c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() blocked on the reconnect loop")
	}

	// No new loop after Close.
	c.handleDisconnect(errors.New("late"))
	c.reconnectMu.Lock()
	reconnecting := c.reconnecting
	c.reconnectMu.Unlock()
	if reconnecting {
		t.Error("reconnect loop started after Close")
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestSubscribe_Validation(t *testing.T) {
	c := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, handler: handler, wantErr: ErrInvalidTopic},
		{name: "bad wildcard", topic: "a/#/b", qos: 1, handler: handler, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "a/b", qos: 3, handler: handler, wantErr: ErrInvalidQoS},
		{name: "nil handler", topic: "a/b", qos: 1, handler: nil, wantErr: ErrSubscribeFailed},
		{name: "disconnected", topic: "a/b", qos: 1, handler: handler, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestSubscribeEvents_Validation(t *testing.T) {
	c := newClient(testConfig())

	if err := c.SubscribeEvents(nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("SubscribeEvents(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.SubscribeEvents([]string{"a/temperature"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SubscribeEvents() disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "wildcard topic", topic: "a/+", qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "a", qos: 5, wantErr: ErrInvalidQoS},
		{name: "oversized", topic: "a", payload: make([]byte, maxPayloadSize+1), qos: 1, wantErr: ErrPublishFailed},
		{name: "disconnected", topic: "a", qos: 1, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := newClient(testConfig())
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := newClient(testConfig())

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnect(t *testing.T) {
	skipIfNoBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestSubscribeEvents_Roundtrip(t *testing.T) {
	skipIfNoBroker(t)

	cfg := testConfig()
	cfg.CleanSession = true
	cfg.Broker.ClientID = "sensorbridge-test-pub"
	pub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	cfg.Broker.ClientID = "sensorbridge-test-sub"
	sub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	topics := []string{"sensorbridge/test/dht/temperature", "sensorbridge/test/dht/humidity"}
	if err := sub.SubscribeEvents(topics); err != nil {
		t.Fatalf("SubscribeEvents() error = %v", err)
	}
	if sub.SubscriptionCount() != 2 || !sub.HasSubscription(topics[0]) {
		t.Errorf("subscriptions not tracked: count=%d", sub.SubscriptionCount())
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(topics[0], []byte("21.7"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Topic != topics[0] || string(ev.Payload) != "21.7" {
			t.Errorf("event = %s %q, want %s \"21.7\"", ev.Topic, ev.Payload, topics[0])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	if err := sub.Unsubscribe(topics[1]); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if sub.HasSubscription(topics[1]) {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
}

func TestStatusTopic_Online(t *testing.T) {
	skipIfNoBroker(t)

	cfg := testConfig()
	cfg.CleanSession = true
	cfg.StatusTopic = "sensorbridge/test/status-online"
	cfg.Broker.ClientID = "sensorbridge-test-status"
	bridge, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer bridge.Close()

	cfg.Broker.ClientID = "sensorbridge-test-status-watch"
	cfg.StatusTopic = ""
	watcher, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() watcher error = %v", err)
	}
	defer watcher.Close()

	got := make(chan string, 4)
	err = watcher.Subscribe("sensorbridge/test/status-online", 1, func(_ string, payload []byte) error {
		got <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-got:
		if !strings.Contains(payload, `"status":"online"`) {
			t.Errorf("status payload = %s, want online", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for retained status")
	}
}
