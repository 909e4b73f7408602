package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/videostore/rental-service/internal/domain"
)

var testTopics = TopicConfig{
	OverdueNoticeTopic:  "rentals.overdue",
	RentalReturnedTopic: "rentals.returned",
}

func mockConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func testBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "events-test"})
}

func TestProducer_NotifyOverdue(t *testing.T) {
	sp := mocks.NewSyncProducer(t, mockConfig())
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event OverdueNoticeEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.EventType != EventTypeOverdueNotice || event.CustomerName != "Ana" {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})
	p := newProducer(sp, testTopics, 10, testBreaker(), zap.NewNop())

	err := p.NotifyOverdue(context.Background(), &domain.Customer{Name: "Ana"})

	require.NoError(t, err)
	stats := p.GetStats()
	assert.Equal(t, int64(1), stats.PublishCount)
	assert.Equal(t, 0, stats.BufferedCount)
	require.NoError(t, p.Close())
}

func TestProducer_FailureIsBufferedAndRetried(t *testing.T) {
	sp := mocks.NewSyncProducer(t, mockConfig())
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageAndSucceed()
	p := newProducer(sp, testTopics, 10, testBreaker(), zap.NewNop())

	err := p.NotifyOverdue(context.Background(), &domain.Customer{Name: "Ana"})

	assert.ErrorIs(t, err, domain.ErrKafkaError)
	assert.Equal(t, 1, p.GetStats().BufferedCount)
	assert.Equal(t, int64(1), p.GetStats().FailureCount)

	assert.Equal(t, 1, p.RetryBufferedEvents(context.Background()))
	assert.Equal(t, 0, p.GetStats().BufferedCount)
	require.NoError(t, p.Close())
}

func TestProducer_BufferDropsOldest(t *testing.T) {
	p := newProducer(mocks.NewSyncProducer(t, mockConfig()), testTopics, 2, testBreaker(), zap.NewNop())

	p.bufferEvent("t", "a", nil)
	p.bufferEvent("t", "b", nil)
	p.bufferEvent("t", "c", nil)

	require.Len(t, p.buffer, 2)
	assert.Equal(t, "b", p.buffer[0].key)
	assert.Equal(t, "c", p.buffer[1].key)
}

func TestProducer_Closed(t *testing.T) {
	sp := mocks.NewSyncProducer(t, mockConfig())
	p := newProducer(sp, testTopics, 10, testBreaker(), zap.NewNop())
	require.NoError(t, p.Close())

	err := p.NotifyOverdue(context.Background(), &domain.Customer{Name: "Ana"})
	assert.Error(t, err)
}

func TestEventType_Topic(t *testing.T) {
	assert.Equal(t, "rentals.overdue", EventTypeOverdueNotice.Topic(testTopics))
	assert.Equal(t, "rentals.returned", EventTypeRentalReturned.Topic(testTopics))
}

type fakeCloser struct {
	closed map[uuid.UUID]time.Time
	err    error
}

func (f *fakeCloser) MarkReturned(ctx context.Context, id uuid.UUID, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.closed[id] = at
	return nil
}

func message(t *testing.T, v interface{}) *sarama.ConsumerMessage {
	value, err := json.Marshal(v)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: testTopics.RentalReturnedTopic, Value: value}
}

func TestConsumer_ProcessRentalReturned(t *testing.T) {
	closer := &fakeCloser{closed: make(map[uuid.UUID]time.Time)}
	c := newConsumer(nil, []string{testTopics.RentalReturnedTopic}, closer, testBreaker(), zap.NewNop())
	at := time.Date(2017, time.April, 30, 17, 0, 0, 0, time.UTC)
	event := NewRentalReturnedEvent(uuid.New(), at)

	err := c.processMessage(context.Background(), message(t, event))

	require.NoError(t, err)
	assert.True(t, closer.closed[event.RentalID].Equal(at))
}

func TestConsumer_ProcessMessageErrors(t *testing.T) {
	t.Run("Unknown event type is ignored", func(t *testing.T) {
		closer := &fakeCloser{closed: make(map[uuid.UUID]time.Time)}
		c := newConsumer(nil, nil, closer, testBreaker(), zap.NewNop())

		err := c.processMessage(context.Background(), message(t, NewOverdueNoticeEvent("Ana")))

		assert.NoError(t, err)
		assert.Empty(t, closer.closed)
	})

	t.Run("Malformed payload", func(t *testing.T) {
		c := newConsumer(nil, nil, &fakeCloser{}, testBreaker(), zap.NewNop())

		err := c.processMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")})
		assert.Error(t, err)
	})

	t.Run("Already returned rental is not an error", func(t *testing.T) {
		c := newConsumer(nil, nil, &fakeCloser{err: domain.ErrRentalNotFound}, testBreaker(), zap.NewNop())

		err := c.processMessage(context.Background(), message(t, NewRentalReturnedEvent(uuid.New(), time.Now())))
		assert.NoError(t, err)
	})

	t.Run("Repository failure", func(t *testing.T) {
		dbErr := errors.New("db down")
		c := newConsumer(nil, nil, &fakeCloser{err: dbErr}, testBreaker(), zap.NewNop())

		err := c.processMessage(context.Background(), message(t, NewRentalReturnedEvent(uuid.New(), time.Now())))
		assert.ErrorIs(t, err, dbErr)
	})
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx context.Context
}

func (s *fakeSession) GenerationID() int32      { return 1 }
func (s *fakeSession) Context() context.Context { return s.ctx }

// fakeGroup runs one session per Consume call until ctx is cancelled
type fakeGroup struct {
	sarama.ConsumerGroup
	sessions atomic.Int32
	closed   atomic.Bool
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	g.sessions.Add(1)
	session := &fakeSession{ctx: ctx}
	if err := handler.Setup(session); err != nil {
		return err
	}
	<-ctx.Done()
	return handler.Cleanup(session)
}

func (g *fakeGroup) Close() error {
	g.closed.Store(true)
	return nil
}

func TestConsumer_StartStop(t *testing.T) {
	group := &fakeGroup{}
	c := newConsumer(group, []string{testTopics.RentalReturnedTopic}, &fakeCloser{}, testBreaker(), zap.NewNop())

	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())

	assert.Equal(t, int32(1), group.sessions.Load())
	assert.True(t, group.closed.Load())
}

func TestConsumer_StopBeforeReady(t *testing.T) {
	c := newConsumer(&blockingGroup{}, nil, &fakeCloser{}, testBreaker(), zap.NewNop())
	c.cancel()

	assert.ErrorIs(t, c.Start(), context.Canceled)
}

// blockingGroup never starts a session
type blockingGroup struct {
	sarama.ConsumerGroup
}

func (g *blockingGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	<-ctx.Done()
	return nil
}

func TestProducer_OpenCircuitIsServiceUnavailable(t *testing.T) {
	sp := mocks.NewSyncProducer(t, mockConfig())
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "events-test",
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})
	p := newProducer(sp, testTopics, 10, cb, zap.NewNop())

	err := p.NotifyOverdue(context.Background(), &domain.Customer{Name: "Ana"})
	assert.NotErrorIs(t, err, domain.ErrServiceUnavailable)

	err = p.NotifyOverdue(context.Background(), &domain.Customer{Name: "Ana"})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.ErrorIs(t, err, domain.ErrKafkaError)
	assert.Equal(t, domain.CodeServiceUnavailable, domain.ErrorToCode(err))
	assert.Equal(t, 2, p.GetStats().BufferedCount)
}
