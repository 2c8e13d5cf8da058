package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderStore.
type orderRepositoryInMemory struct {
	mu            sync.RWMutex
	nextID        int64
	items         map[int64]domain.Order
	byReservation map[string]int64
}

// NewOrderRepository возвращает in-memory хранилище заказов для локальной разработки и тестов.
func NewOrderRepository() domain.OrderStore {
	return &orderRepositoryInMemory{
		items:         make(map[int64]domain.Order),
		byReservation: make(map[string]int64),
	}
}

// Create назначает следующий ID и сохраняет заказ.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ReservationID != "" {
		if existing, ok := r.byReservation[order.ReservationID]; ok {
			return domain.Order{}, fmt.Errorf("reservation %s already belongs to order %d", order.ReservationID, existing)
		}
	}

	r.nextID++
	order.ID = r.nextID
	r.items[order.ID] = order
	if order.ReservationID != "" {
		r.byReservation[order.ReservationID] = order.ID
	}
	return order, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// List возвращает заказы по возрастанию ID.
func (r *orderRepositoryInMemory) List(_ context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		result = append(result, order)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Cancel переводит заказ в CANCELLED; уже отменённый заказ возвращается как есть.
func (r *orderRepositoryInMemory) Cancel(_ context.Context, id int64, at time.Time) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, false, domain.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, false, nil
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return domain.Order{}, false, domain.ErrInvalidStatusTransition
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = at
	r.items[id] = order
	return order, true, nil
}

func (r *orderRepositoryInMemory) GetByReservation(_ context.Context, reservationID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byReservation[reservationID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.items[id], nil
}

var _ domain.OrderStore = (*orderRepositoryInMemory)(nil)
