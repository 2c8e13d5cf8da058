package domain

import (
	"context"
	"time"
)

// UserDirectory — источник данных о пользователях для оркестратора заказов.
type UserDirectory interface {
	// Lookup возвращает пользователя или ErrUserNotFound.
	Lookup(ctx context.Context, id int64) (User, error)
}

// ProductCatalog — каталог товаров и владелец стока.
type ProductCatalog interface {
	// Lookup возвращает товар или ErrProductNotFound.
	Lookup(ctx context.Context, id int64) (Product, error)
	// ReserveStock атомарно списывает qty единиц и заводит запись резерва.
	// Если стока меньше qty, возвращает ErrInsufficientStock и ничего не меняет.
	ReserveStock(ctx context.Context, productID, qty int64) (Reservation, error)
	// CommitReservation привязывает резерв к сохранённому заказу.
	CommitReservation(ctx context.Context, reservationID string, orderID int64) error
	// ReleaseReservation возвращает сток по резерву ровно один раз.
	ReleaseReservation(ctx context.Context, reservationID string) (Reservation, error)
}

// ReservationLedger даёт доступ к журналу резервов для сверки.
type ReservationLedger interface {
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	CommitReservation(ctx context.Context, reservationID string, orderID int64) error
	ReleaseReservation(ctx context.Context, reservationID string) (Reservation, error)
}

// OrderStore — хранилище заказов, которым владеет сервис заказов.
type OrderStore interface {
	// Create назначает заказу ID и сохраняет его.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// List возвращает все заказы по возрастанию ID.
	List(ctx context.Context) ([]Order, error)
	// Cancel переводит заказ в CANCELLED. Повторная отмена не ошибка:
	// changed=false означает, что заказ уже был отменён.
	Cancel(ctx context.Context, id int64, at time.Time) (order Order, changed bool, err error)
	// GetByReservation ищет заказ по идентификатору резерва.
	GetByReservation(ctx context.Context, reservationID string) (Order, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID int64) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, resultCode int) error
	MarkFailed(key string, responseBody []byte, resultCode int) error
	// Release удаляет запись в статусе processing, чтобы повтор с тем же ключом выполнился заново.
	Release(key string) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OrderStep задаёт константы шагов создания заказа для метрик и логов.
type OrderStep string

const (
	OrderStepValidate      OrderStep = "validate"
	OrderStepLookupProduct OrderStep = "lookup_product"
	OrderStepLookupUser    OrderStep = "lookup_user"
	OrderStepReserve       OrderStep = "reserve"
	OrderStepPersist       OrderStep = "persist"
	OrderStepCommit        OrderStep = "commit"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
