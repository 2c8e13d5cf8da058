package memory

import "github.com/vladislavdragonenkov/storefront/internal/domain"

// Store собирает in-memory репозитории одного экземпляра сервиса.
type Store struct {
	Users       domain.UserRepository
	Products    domain.ProductRepository
	Orders      domain.OrderStore
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
}

// NewStore создаёт пустое хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		Users:       NewUserRepository(),
		Products:    NewProductRepository(),
		Orders:      NewOrderRepository(),
		Outbox:      NewOutboxRepository(),
		Timeline:    NewTimelineRepository(),
		Idempotency: NewIdempotencyRepository(),
	}
}
