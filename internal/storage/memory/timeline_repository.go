package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type timelineRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[int64][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory историю заказов.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{events: make(map[int64][]domain.TimelineEvent)}
}

func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	event, err := event.Normalize(time.Now().UTC())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Вставка с сохранением хронологии; при равном времени — порядок добавления.
	events := r.events[event.OrderID]
	at := sort.Search(len(events), func(i int) bool { return events[i].Occurred.After(event.Occurred) })
	events = append(events, domain.TimelineEvent{})
	copy(events[at+1:], events[at:])
	events[at] = event
	r.events[event.OrderID] = events
	return nil
}

func (r *timelineRepositoryInMemory) List(orderID int64) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent(nil), r.events[orderID]...), nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
