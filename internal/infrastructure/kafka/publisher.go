package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

const (
	defaultQueueSize    = 256
	defaultBatchSize    = 100
	defaultWriteTimeout = 10 * time.Second
)

// Sentinel errors. Check with errors.Is.
var (
	ErrDisabled   = errors.New("kafka: disabled in configuration")
	ErrNotStarted = errors.New("kafka: publisher not started")
	ErrQueueFull  = errors.New("kafka: publish queue full")
)

// Logger is the optional logging dependency.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher delivers JSON messages to one topic in the background.
//
// Thread Safety:
//   - Publish may be called from any goroutine.
//   - Start and Stop are idempotent.
type Publisher struct {
	topic  string
	writer messageWriter
	queue  chan kafkago.Message

	mu     sync.RWMutex
	logger Logger

	started   atomic.Bool
	stopped   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New builds a Publisher for cfg. Keys are hashed across partitions so
// every event of a group lands on the same partition in order.
//
// Returns:
//   - *Publisher: Ready to Start
//   - error: ErrDisabled when kafka.enabled is false, or a config error
func New(cfg config.KafkaConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		BatchSize:              defaultBatchSize,
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(cfg.Topic, w, cfg.QueueSize), nil
}

func newPublisher(topic string, w messageWriter, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Publisher{
		topic:  topic,
		writer: w,
		queue:  make(chan kafkago.Message, queueSize),
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for delivery failures.
func (p *Publisher) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

func (p *Publisher) log() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.logger
}

// Start launches the delivery loop. The loop exits when ctx is cancelled
// or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		p.started.Store(true)
		go p.run(runCtx)
		p.log().Info("kafka publisher started", "topic", p.topic)
	})
}

// Stop ends the delivery loop, writes whatever is still queued and closes
// the writer. It returns ctx.Err() if draining outlives ctx.
func (p *Publisher) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		if p.cancel != nil {
			p.cancel()
			select {
			case <-p.done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		if cerr := p.writer.Close(); cerr != nil {
			p.log().Error("kafka writer close failed", "error", cerr)
		}
		p.log().Info("kafka publisher stopped",
			"delivered", p.delivered.Load(),
			"failed", p.failed.Load(),
			"dropped", p.dropped.Load(),
		)
	})
	return err
}

// Publish encodes value as JSON and queues it under key.
//
// Returns:
//   - error: ErrNotStarted before Start or after Stop, ErrQueueFull when
//     the queue is saturated, or an encoding error
func (p *Publisher) Publish(key string, value any) error {
	if !p.started.Load() || p.stopped.Load() {
		return ErrNotStarted
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: encoding message: %w", err)
	}

	msg := kafkago.Message{Key: []byte(key), Value: data, Time: time.Now().UTC()}
	select {
	case p.queue <- msg:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stats reports delivery counters.
func (p *Publisher) Stats() (delivered, failed, dropped int64) {
	return p.delivered.Load(), p.failed.Load(), p.dropped.Load()
}

// run hands the writer everything already queued in one call. A
// synchronous kafka-go writer holds a short batch until BatchTimeout, so
// one message per call would cap throughput at one batch per timeout.
func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)
	batch := make([]kafkago.Message, 0, defaultBatchSize)
	for {
		select {
		case <-ctx.Done():
			p.drain(batch)
			return
		case msg := <-p.queue:
			batch = p.collect(append(batch[:0], msg))
			p.deliver(batch)
		}
	}
}

// collect appends queued messages to batch without blocking.
func (p *Publisher) collect(batch []kafkago.Message) []kafkago.Message {
	for len(batch) < defaultBatchSize {
		select {
		case msg := <-p.queue:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

func (p *Publisher) drain(batch []kafkago.Message) {
	for {
		batch = p.collect(batch[:0])
		if len(batch) == 0 {
			return
		}
		p.deliver(batch)
	}
}

// deliver writes one batch. Each write gets its own deadline so queued
// messages still go out while the loop is shutting down.
func (p *Publisher) deliver(batch []kafkago.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	n := int64(len(batch))
	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.failed.Add(n)
		p.log().Error("kafka publish failed", "topic", p.topic, "messages", n, "error", err)
		return
	}
	p.delivered.Add(n)
}
