// Package events contains event definitions for Kafka messaging.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeOverdueNotice  EventType = "OverdueNotice"
	EventTypeRentalReturned EventType = "RentalReturned"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	EventType     EventType `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewBaseEvent creates a new base event
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
	}
}

// OverdueNoticeEvent asks downstream channels to remind a customer of an overdue rental
type OverdueNoticeEvent struct {
	BaseEvent
	CustomerName string `json:"customer_name"`
}

// NewOverdueNoticeEvent creates a new OverdueNotice event
func NewOverdueNoticeEvent(customerName string) *OverdueNoticeEvent {
	return &OverdueNoticeEvent{
		BaseEvent:    NewBaseEvent(EventTypeOverdueNotice),
		CustomerName: customerName,
	}
}

// Key returns the partition key for Kafka
func (e *OverdueNoticeEvent) Key() string {
	return e.CustomerName
}

// RentalReturnedEvent is received from the store front when movies come back
type RentalReturnedEvent struct {
	BaseEvent
	RentalID   uuid.UUID `json:"rental_id"`
	ReturnedAt time.Time `json:"returned_at"`
}

// NewRentalReturnedEvent creates a new RentalReturned event
func NewRentalReturnedEvent(rentalID uuid.UUID, at time.Time) *RentalReturnedEvent {
	return &RentalReturnedEvent{
		BaseEvent:  NewBaseEvent(EventTypeRentalReturned),
		RentalID:   rentalID,
		ReturnedAt: at.UTC(),
	}
}

// Key returns the partition key for Kafka
func (e *RentalReturnedEvent) Key() string {
	return e.RentalID.String()
}

// TopicConfig holds topic names for event routing
type TopicConfig struct {
	OverdueNoticeTopic  string
	RentalReturnedTopic string
}

// Topic returns the Kafka topic for the event type
func (e EventType) Topic(cfg TopicConfig) string {
	switch e {
	case EventTypeRentalReturned:
		return cfg.RentalReturnedTopic
	default:
		return cfg.OverdueNoticeTopic
	}
}
