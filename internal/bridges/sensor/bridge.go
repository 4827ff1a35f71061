package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

const (
	// BridgeID names the bridge in health messages and topics.
	BridgeID = "sensor"

	defaultQoS            = 1
	defaultHealthInterval = 30 * time.Second
	defaultRecordTimeout  = 5 * time.Second
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// DeviceService is the subset of *device.Service the bridge uses.
type DeviceService interface {
	RecordTemperature(ctx context.Context, groupID, deviceID string, value float64) error
	QueryAllTemperatures(ctx context.Context, groupID string, timeout time.Duration) (device.QueryResult, error)
}

// Logger is the logging dependency.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	MQTT    MQTTClient
	Service DeviceService
	Logger  Logger

	// Version is reported in health messages.
	Version string

	// QoS for subscriptions and publishes. Zero selects 1.
	QoS byte

	// HealthInterval between retained health messages. Default 30s.
	HealthInterval time.Duration

	// RecordTimeout bounds one RecordTemperature call. Default 5s.
	RecordTimeout time.Duration

	// PublishEvents mirrors device events onto MQTT when the bridge is
	// registered as a device.EventPublisher.
	PublishEvents bool
}

// Bridge connects MQTT sensor traffic to the device service.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt    MQTTClient
	service DeviceService
	logger  Logger
	opts    Options
	topics  mqtt.Topics

	startedAt time.Time
	started   atomic.Bool
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	// mu guards stopping so no goroutine is added to wg once Stop waits.
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	readings atomic.Int64
	queries  atomic.Int64
	errors   atomic.Int64
	events   atomic.Int64
}

// New creates a Bridge. Call Start to subscribe.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("sensor: mqtt client is required")
	}
	if opts.Service == nil {
		return nil, fmt.Errorf("sensor: device service is required")
	}
	if opts.QoS == 0 {
		opts.QoS = defaultQoS
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("sensor: invalid qos %d", opts.QoS)
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = defaultRecordTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		mqtt:    opts.MQTT,
		service: opts.Service,
		logger:  logger,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Start subscribes to reading and query topics and begins health reporting.
// Health reporting stops when ctx is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	b.startedAt = time.Now()

	b.publishHealth(HealthStarting, "bridge starting")

	if err := b.mqtt.Subscribe(b.topics.AllReadings(), b.opts.QoS, b.handleReading); err != nil {
		return fmt.Errorf("subscribe to readings: %w", err)
	}
	if err := b.mqtt.Subscribe(b.topics.AllQueries(), b.opts.QoS, b.handleQuery); err != nil {
		return fmt.Errorf("subscribe to queries: %w", err)
	}

	b.spawn(func() { b.healthLoop(ctx) })

	b.logger.Info("sensor bridge started",
		"readings", b.topics.AllReadings(),
		"queries", b.topics.AllQueries(),
	)
	return nil
}

// Stop unsubscribes, waits for in-flight queries and publishes a final
// "stopping" health message. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopping = true
		b.mu.Unlock()
		close(b.done)

		if b.started.Load() {
			for _, topic := range []string{b.topics.AllReadings(), b.topics.AllQueries()} {
				if err := b.mqtt.Unsubscribe(topic); err != nil {
					b.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
				}
			}
		}
		b.cancel()
		b.wg.Wait()
		b.publishHealth(HealthStopping, "")
		b.logger.Info("sensor bridge stopped",
			"readings", b.readings.Load(),
			"queries", b.queries.Load(),
			"errors", b.errors.Load(),
		)
	})
}

// handleReading records one sensor reading.
func (b *Bridge) handleReading(topic string, payload []byte) error {
	groupID, deviceID, ok := mqtt.ParseReadingTopic(topic)
	if !ok {
		b.errors.Add(1)
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	var msg ReadingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.errors.Add(1)
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if msg.Value == nil {
		b.errors.Add(1)
		return fmt.Errorf("%w: missing value", ErrInvalidPayload)
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.opts.RecordTimeout)
	defer cancel()

	if err := b.service.RecordTemperature(ctx, groupID, deviceID, *msg.Value); err != nil {
		b.errors.Add(1)
		return fmt.Errorf("record %s/%s: %w", groupID, deviceID, err)
	}
	b.readings.Add(1)
	return nil
}

// handleQuery validates a query and runs it in the background.
func (b *Bridge) handleQuery(topic string, payload []byte) error {
	groupID, ok := mqtt.ParseQueryTopic(topic)
	if !ok {
		b.errors.Add(1)
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	var msg QueryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.errors.Add(1)
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	b.spawn(func() { b.runQuery(groupID, msg) })
	return nil
}

// spawn runs fn on a goroutine tracked by Stop. It does nothing once
// Stop has begun.
func (b *Bridge) spawn(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *Bridge) runQuery(groupID string, msg QueryMessage) {
	b.queries.Add(1)

	var resp ResponseMessage
	if msg.TimeoutMS < 0 {
		b.errors.Add(1)
		resp = newErrorResponse(msg.RequestID, groupID, fmt.Errorf("%w: negative timeout_ms", ErrInvalidPayload))
	} else {
		result, err := b.service.QueryAllTemperatures(b.ctx, groupID, msg.Timeout())
		if err != nil {
			b.errors.Add(1)
			b.logger.Warn("group query failed", "group_id", groupID, "request_id", msg.RequestID, "error", err)
			resp = newErrorResponse(msg.RequestID, groupID, err)
		} else {
			resp = newResponse(msg.RequestID, result)
		}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("encoding query response failed", "group_id", groupID, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Response(groupID, msg.RequestID), payload, b.opts.QoS, false); err != nil {
		b.errors.Add(1)
		b.logger.Warn("publishing query response failed", "group_id", groupID, "request_id", msg.RequestID, "error", err)
	}
}

// Publish implements device.EventPublisher. Events are sent on a separate
// goroutine; failures are logged.
func (b *Bridge) Publish(_ context.Context, event device.Event) {
	if !b.opts.PublishEvents {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("encoding device event failed", "type", event.Type, "error", err)
		return
	}

	b.spawn(func() {
		if err := b.mqtt.Publish(b.topics.CoreEvent(event.Type), payload, b.opts.QoS, false); err != nil {
			b.logger.Debug("publishing device event failed", "type", event.Type, "error", err)
			return
		}
		b.events.Add(1)
	})
}

// Metrics are cumulative bridge counters.
type Metrics struct {
	Readings int64 `json:"readings"`
	Queries  int64 `json:"queries"`
	Errors   int64 `json:"errors"`
	Events   int64 `json:"events"`
}

// GetMetrics returns the bridge counters.
func (b *Bridge) GetMetrics() Metrics {
	return Metrics{
		Readings: b.readings.Load(),
		Queries:  b.queries.Load(),
		Errors:   b.errors.Load(),
		Events:   b.events.Load(),
	}
}
