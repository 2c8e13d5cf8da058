package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderCreated           EventType = "order.created"
	EventTypeOrderCancelled         EventType = "order.cancelled"
	EventTypeOrderPersistenceFailed EventType = "order.persistence_failed"

	EventTypeReservationOrphaned EventType = "reservation.orphaned"
	EventTypeReservationReleased EventType = "reservation.released"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
)

// OrderEvent — публичное событие о заказе или резерве.
// Денежная сумма передаётся строкой, чтобы не терять точность в JSON.
type OrderEvent struct {
	EventType     EventType `json:"event_type"`
	OrderID       int64     `json:"order_id,omitempty"`
	UserID        int64     `json:"user_id,omitempty"`
	ProductID     int64     `json:"product_id"`
	Quantity      int64     `json:"quantity"`
	TotalAmount   string    `json:"total_amount,omitempty"`
	Status        string    `json:"status,omitempty"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewOrderEvent создаёт событие с текущим временем.
func NewOrderEvent(eventType EventType) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// Envelope — обёртка outbox-сообщения при публикации в topic.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// ParseEnvelope разбирает сообщение из topic событий.
func ParseEnvelope(value []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

// OrderEvent извлекает событие заказа из payload.
func (e *Envelope) OrderEvent() (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return &event, nil
}
