package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DeadLetter — тело сообщения в DLQ: исходное событие и причина отказа.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func newDeadLetter(msg domain.OutboxMessage, cause error, at time.Time) DeadLetter {
	letter := DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		PublishError:  cause.Error(),
		FailedAt:      at,
	}
	// Невалидный JSON не встраивается, иначе сломается всё тело письма.
	if json.Valid(msg.Payload) {
		letter.Payload = json.RawMessage(msg.Payload)
	}
	return letter
}

func (w *Worker) sendToDLQ(msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}
	body, err := json.Marshal(newDeadLetter(msg, cause, w.now()))
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	letter := msg
	letter.Payload = body
	if err := w.dlq.Publish(letter); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}
