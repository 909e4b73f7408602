// Package events provides the Kafka consumer that closes returned rentals.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/videostore/rental-service/internal/domain"
)

// RentalCloser marks rentals as returned so they stop being pending
type RentalCloser interface {
	MarkReturned(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Consumer handles consuming events from Kafka
type Consumer struct {
	consumerGroup  sarama.ConsumerGroup
	topics         []string
	closer         RentalCloser
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger

	ready   chan bool
	readyMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ConsumerConfig holds configuration for the Kafka consumer
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	InitialOffset int64
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(
	cfg ConsumerConfig,
	closer RentalCloser,
	cb *gobreaker.CircuitBreaker,
	logger *zap.Logger,
) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	config.Consumer.Offsets.Initial = cfg.InitialOffset
	config.Consumer.Group.Session.Timeout = 10 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return newConsumer(consumerGroup, cfg.Topics, closer, cb, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, closer RentalCloser, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		consumerGroup:  group,
		topics:         topics,
		closer:         closer,
		circuitBreaker: cb,
		logger:         logger,
		ready:          make(chan bool),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins consuming messages
func (c *Consumer) Start() error {
	ready := c.readyChan()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			default:
			}

			if err := c.consumerGroup.Consume(c.ctx, c.topics, c); err != nil {
				c.logger.Error("Consumer error", zap.Error(err))
			}

			// Reset ready channel for rebalancing
			c.readyMu.Lock()
			c.ready = make(chan bool)
			c.readyMu.Unlock()
		}
	}()

	select {
	case <-ready:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	c.logger.Info("Consumer ready", zap.Strings("topics", c.topics))

	return nil
}

// Stop stops the consumer gracefully
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// Setup is run at the beginning of a new consumer group session
func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer session setup",
		zap.Int32("generation", session.GenerationID()),
	)
	close(c.readyChan())
	return nil
}

// Cleanup is run at the end of a consumer group session
func (c *Consumer) Cleanup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer session cleanup",
		zap.Int32("generation", session.GenerationID()),
	)
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			if err := c.processMessage(session.Context(), msg); err != nil {
				c.logger.Error("Failed to process message",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}

			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// processMessage handles a single Kafka message
func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var baseEvent BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case EventTypeRentalReturned:
		var event RentalReturnedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal RentalReturned: %w", err)
		}
		return c.handleRentalReturned(ctx, &event)

	default:
		c.logger.Warn("Unknown event type",
			zap.String("event_type", string(baseEvent.EventType)),
		)
		return nil
	}
}

func (c *Consumer) handleRentalReturned(ctx context.Context, event *RentalReturnedEvent) error {
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.closer.MarkReturned(ctx, event.RentalID, event.ReturnedAt)
	})
	if errors.Is(err, domain.ErrRentalNotFound) {
		// Already returned or unknown: nothing left to close
		c.logger.Warn("Returned rental not pending", zap.String("rental_id", event.RentalID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("handler error: %w", err)
	}

	c.logger.Info("Rental returned", zap.String("rental_id", event.RentalID.String()))
	return nil
}

func (c *Consumer) readyChan() chan bool {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	return c.ready
}
