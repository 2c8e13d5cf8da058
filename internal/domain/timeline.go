package domain

import (
	"fmt"
	"strings"
	"time"
)

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated   = "OrderCreated"
	TimelineOrderCancelled = "OrderCancelled"
)

// TimelineEvent — запись в истории заказа. Возвращается в GetOrder вместе с заказом.
type TimelineEvent struct {
	OrderID  int64
	Type     string
	Reason   string
	Occurred time.Time
}

// Normalize проверяет событие и проставляет время now, если оно не задано.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	if e.OrderID <= 0 {
		return e, fmt.Errorf("%w: timeline order id must be positive, got %d", ErrInvalidRequest, e.OrderID)
	}
	e.Type = strings.TrimSpace(e.Type)
	if e.Type == "" {
		return e, fmt.Errorf("%w: timeline event type is required", ErrInvalidRequest)
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	return e, nil
}
