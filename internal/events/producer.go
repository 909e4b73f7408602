// Package events provides the Kafka producer that publishes overdue notices.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/videostore/rental-service/internal/domain"
)

// Event interface for all publishable events
type Event interface {
	Key() string
}

// Producer publishes rental events to Kafka
type Producer struct {
	producer       sarama.SyncProducer
	topicConfig    TopicConfig
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger

	// Buffer for failed events
	buffer     []bufferedEvent
	bufferMu   sync.Mutex
	bufferSize int

	publishCount atomic.Int64
	failureCount atomic.Int64

	closed bool
	mu     sync.RWMutex
}

// bufferedEvent stores events that failed to publish
type bufferedEvent struct {
	topic   string
	key     string
	value   []byte
	addedAt time.Time
}

// ProducerConfig holds configuration for the Kafka producer
type ProducerConfig struct {
	Brokers          []string
	TopicConfig      TopicConfig
	BufferSize       int
	RequireAcks      int
	EnableIdempotent bool
	MaxRetries       int
	RetryBackoff     time.Duration
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, cb *gobreaker.CircuitBreaker, logger *zap.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequireAcks)
	config.Producer.Idempotent = cfg.EnableIdempotent
	config.Producer.Retry.Max = cfg.MaxRetries
	config.Producer.Retry.Backoff = cfg.RetryBackoff
	if cfg.EnableIdempotent {
		config.Net.MaxOpenRequests = 1 // Required for idempotent producer
	}

	syncProducer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	return newProducer(syncProducer, cfg.TopicConfig, cfg.BufferSize, cb, logger), nil
}

func newProducer(sp sarama.SyncProducer, topics TopicConfig, bufferSize int, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *Producer {
	return &Producer{
		producer:       sp,
		topicConfig:    topics,
		circuitBreaker: cb,
		logger:         logger,
		buffer:         make([]bufferedEvent, 0, bufferSize),
		bufferSize:     bufferSize,
	}
}

// NotifyOverdue publishes an overdue notice for the customer
func (p *Producer) NotifyOverdue(ctx context.Context, customer *domain.Customer) error {
	if customer == nil {
		return fmt.Errorf("customer required")
	}
	event := NewOverdueNoticeEvent(customer.Name)
	return p.publishSync(ctx, EventTypeOverdueNotice.Topic(p.topicConfig), event)
}

// PublishRentalReturned publishes a RentalReturned event
func (p *Producer) PublishRentalReturned(ctx context.Context, event *RentalReturnedEvent) error {
	return p.publishSync(ctx, EventTypeRentalReturned.Topic(p.topicConfig), event)
}

// publishSync publishes an event synchronously with circuit breaker
func (p *Producer) publishSync(ctx context.Context, topic string, event Event) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("producer is closed")
	}
	p.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	key := event.Key()
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("correlation_id"), Value: []byte(uuid.New().String())},
			{Key: []byte("timestamp"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	_, cbErr := p.circuitBreaker.Execute(func() (interface{}, error) {
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			return nil, err
		}

		p.logger.Debug("Event published",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
		)

		return nil, nil
	})

	if cbErr != nil {
		p.logger.Error("Failed to publish event",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(cbErr),
		)

		p.bufferEvent(topic, key, value)
		p.failureCount.Add(1)

		if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w: %v", domain.ErrServiceUnavailable, domain.ErrKafkaError, cbErr)
		}
		return fmt.Errorf("%w: failed to publish event: %v", domain.ErrKafkaError, cbErr)
	}

	p.publishCount.Add(1)
	return nil
}

// bufferEvent stores a failed event for later retry
func (p *Producer) bufferEvent(topic, key string, value []byte) {
	p.bufferMu.Lock()
	defer p.bufferMu.Unlock()

	if p.bufferSize <= 0 {
		return
	}
	if len(p.buffer) >= p.bufferSize {
		// Remove oldest event
		p.buffer = p.buffer[1:]
	}

	p.buffer = append(p.buffer, bufferedEvent{
		topic:   topic,
		key:     key,
		value:   value,
		addedAt: time.Now(),
	})
}

// RetryBufferedEvents attempts to republish buffered events
func (p *Producer) RetryBufferedEvents(ctx context.Context) int {
	p.bufferMu.Lock()
	events := make([]bufferedEvent, len(p.buffer))
	copy(events, p.buffer)
	p.buffer = p.buffer[:0]
	p.bufferMu.Unlock()

	retriedCount := 0
	for i, evt := range events {
		if ctx.Err() != nil {
			for _, rest := range events[i:] {
				p.bufferEvent(rest.topic, rest.key, rest.value)
			}
			break
		}

		msg := &sarama.ProducerMessage{
			Topic: evt.topic,
			Key:   sarama.StringEncoder(evt.key),
			Value: sarama.ByteEncoder(evt.value),
		}

		if _, _, err := p.producer.SendMessage(msg); err != nil {
			p.bufferEvent(evt.topic, evt.key, evt.value)
			continue
		}
		retriedCount++
	}

	if retriedCount > 0 {
		p.logger.Info("Republished buffered events", zap.Int("count", retriedCount))
	}
	return retriedCount
}

// GetStats returns producer statistics
func (p *Producer) GetStats() ProducerStats {
	p.bufferMu.Lock()
	bufferedCount := len(p.buffer)
	p.bufferMu.Unlock()

	return ProducerStats{
		PublishCount:  p.publishCount.Load(),
		FailureCount:  p.failureCount.Load(),
		BufferedCount: bufferedCount,
	}
}

// ProducerStats holds producer statistics
type ProducerStats struct {
	PublishCount  int64 `json:"publish_count"`
	FailureCount  int64 `json:"failure_count"`
	BufferedCount int   `json:"buffered_count"`
}

// Close closes the producer
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("error closing producer: %w", err)
	}
	return nil
}
