package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

const testBrokerAddr = "127.0.0.1:1883"

// testConfig returns a config for a local broker with a unique client id.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "grayiot-test-" + uuid.NewString()[:8],
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test when no broker listens on testBrokerAddr.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", testBrokerAddr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", testBrokerAddr, err)
	}
	conn.Close()
}

func connect(t *testing.T) *Client {
	t.Helper()
	requireBroker(t)
	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Without a broker
// =============================================================================

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("zero Close() error = %v", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for an unconnected client")
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	err := (&Client{}).HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := (&Client{}).HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{subscriptions: map[string]subscription{}}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"oversized", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "a/b", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: map[string]subscription{}}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: error = %v", err)
	}
	if err := c.Subscribe("a/b", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: error = %v", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: error = %v", err)
	}
	if err := c.Subscribe("a/b", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	if got := brokerURL(cfg); !strings.HasPrefix(got, "ssl://") {
		t.Errorf("brokerURL() with TLS = %q, want ssl scheme", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "sensor"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if opts.ClientID != cfg.Broker.ClientID {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, cfg.Broker.ClientID)
	}
	if opts.Username != "sensor" || opts.Password != "secret" {
		t.Errorf("credentials not applied: %q/%q", opts.Username, opts.Password)
	}
	if !opts.WillEnabled || opts.WillTopic != (Topics{}).SystemStatus() || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
}

func TestStatusJSON(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(statusJSON("core-1", "offline", "graceful_shutdown"), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "core-1" || p.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", p.Timestamp, err)
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
// Against a broker
// =============================================================================

func TestConnect(t *testing.T) {
	client := connect(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connect(t)
	topic := Topics{}.Reading("test-"+uuid.NewString()[:8], "t-1")

	received := make(chan []byte, 1)
	err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	if err := client.PublishJSON(topic, map[string]float64{"value": 21.5}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"value":21.5}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
}

func TestWildcardSubscription(t *testing.T) {
	client := connect(t)
	group := "wild-" + uuid.NewString()[:8]

	var mu sync.Mutex
	var topics []string
	done := make(chan struct{}, 2)
	err := client.Subscribe(TopicPrefix+"/reading/"+group+"/+", 1, func(topic string, _ []byte) error {
		mu.Lock()
		topics = append(topics, topic)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, id := range []string{"a", "b"} {
		if err := client.Publish(Topics{}.Reading(group, id), []byte(`{"value":1}`), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for wildcard messages")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(topics) != 2 {
		t.Errorf("received %d messages, want 2", len(topics))
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func TestHandlerErrorIsLogged(t *testing.T) {
	client := connect(t)
	logger := &recordingLogger{}
	client.SetLogger(logger)

	topic := TopicPrefix + "/test/" + uuid.NewString()[:8]
	err := client.Subscribe(topic, 1, func(string, []byte) error {
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Publish(topic, []byte("x"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for logger.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if logger.count() == 0 {
		t.Error("handler error was not logged")
	}
}
