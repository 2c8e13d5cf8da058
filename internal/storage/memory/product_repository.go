package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productEntry — запись каталога со своим мьютексом: резервы по разным товарам
// не блокируют друг друга, а по одному товару выполняются строго по очереди.
type productEntry struct {
	mu      sync.Mutex
	product domain.Product
	deleted bool
}

// productRepositoryInMemory хранит каталог и журнал резервов.
// Порядок захвата блокировок: entry.mu, затем resMu.
type productRepositoryInMemory struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]*productEntry

	resMu        sync.Mutex
	reservations map[string]domain.Reservation
}

// NewProductRepository возвращает in-memory каталог товаров.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items:        make(map[int64]*productEntry),
		reservations: make(map[string]domain.Reservation),
	}
}

func (r *productRepositoryInMemory) entry(id int64) *productEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items[id]
}

func (r *productRepositoryInMemory) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := time.Now().UTC()
	product.ID = r.nextID
	product.CreatedAt = now
	product.UpdatedAt = now
	r.items[product.ID] = &productEntry{product: product}
	return product, nil
}

func (r *productRepositoryInMemory) Get(_ context.Context, id int64) (domain.Product, error) {
	e := r.entry(id)
	if e == nil {
		return domain.Product{}, domain.ErrProductNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return e.product, nil
}

func (r *productRepositoryInMemory) List(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	entries := make([]*productEntry, 0, len(r.items))
	for _, e := range r.items {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	result := make([]domain.Product, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			result = append(result, e.product)
		}
		e.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *productRepositoryInMemory) Update(_ context.Context, product domain.Product) (domain.Product, error) {
	e := r.entry(product.ID)
	if e == nil {
		return domain.Product{}, domain.ErrProductNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.Product{}, domain.ErrProductNotFound
	}

	product.CreatedAt = e.product.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	e.product = product
	return product, nil
}

func (r *productRepositoryInMemory) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	delete(r.items, id)
	return nil
}

// Reserve списывает сток под мьютексом товара и пишет резерв в журнал.
func (r *productRepositoryInMemory) Reserve(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	if res.Quantity <= 0 {
		return domain.Reservation{}, domain.ErrReservationQtyInvalid
	}
	e := r.entry(res.ProductID)
	if e == nil {
		return domain.Reservation{}, domain.ErrProductNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Reservation{}, err
	}
	if e.deleted {
		return domain.Reservation{}, domain.ErrProductNotFound
	}
	if e.product.Stock < res.Quantity {
		return domain.Reservation{}, domain.ErrInsufficientStock
	}

	now := time.Now().UTC()
	e.product.Stock -= res.Quantity
	e.product.UpdatedAt = now

	res.Status = domain.ReservationStatusReserved
	res.CreatedAt = now
	res.UpdatedAt = now

	r.resMu.Lock()
	r.reservations[res.ID] = res
	r.resMu.Unlock()

	return res, nil
}

func (r *productRepositoryInMemory) CommitReservation(_ context.Context, reservationID string, orderID int64) error {
	r.resMu.Lock()
	defer r.resMu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	switch {
	case res.Status == domain.ReservationStatusCommitted && res.OrderID == orderID:
		return nil
	case res.Status != domain.ReservationStatusReserved:
		return domain.ErrReservationState
	}

	res.Status = domain.ReservationStatusCommitted
	res.OrderID = orderID
	res.UpdatedAt = time.Now().UTC()
	r.reservations[reservationID] = res
	return nil
}

// ReleaseReservation сначала переводит резерв в released под resMu, и только
// потом возвращает сток: повторный вызов увидит released и ничего не вернёт.
func (r *productRepositoryInMemory) ReleaseReservation(_ context.Context, reservationID string) (domain.Reservation, error) {
	r.resMu.Lock()
	res, ok := r.reservations[reservationID]
	if !ok {
		r.resMu.Unlock()
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if res.Status != domain.ReservationStatusReserved {
		r.resMu.Unlock()
		return res, domain.ErrReservationState
	}
	res.Status = domain.ReservationStatusReleased
	res.UpdatedAt = time.Now().UTC()
	r.reservations[reservationID] = res
	r.resMu.Unlock()

	if e := r.entry(res.ProductID); e != nil {
		e.mu.Lock()
		if !e.deleted {
			e.product.Stock += res.Quantity
			e.product.UpdatedAt = res.UpdatedAt
		}
		e.mu.Unlock()
	}
	return res, nil
}

func (r *productRepositoryInMemory) GetReservation(_ context.Context, reservationID string) (domain.Reservation, error) {
	r.resMu.Lock()
	defer r.resMu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res, nil
}

func (r *productRepositoryInMemory) ListReservations(_ context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	r.resMu.Lock()
	result := make([]domain.Reservation, 0)
	for _, res := range r.reservations {
		if filter.Matches(res) {
			result = append(result, res)
		}
	}
	r.resMu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
