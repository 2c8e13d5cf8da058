package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// idempotencyKeys держит записи по нормализованному ключу. Наружу отдаются только копии.
type idempotencyKeys struct {
	mu      sync.RWMutex
	records map[string]*domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return newIdempotencyRepository(func() time.Time { return time.Now().UTC() })
}

func newIdempotencyRepository(now func() time.Time) *idempotencyKeys {
	return &idempotencyKeys{records: make(map[string]*domain.IdempotencyRecord), now: now}
}

// CreateProcessing занимает ключ. Истёкшая запись молча заменяется новой.
func (s *idempotencyKeys) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := s.now()
	claim, err := domain.NewIdempotencyClaim(key, requestHash, now, ttlAt)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.records[claim.Key]; ok && held.Live(now) {
		return snapshot(held), held.Conflict(claim.RequestHash)
	}
	s.records[claim.Key] = &claim
	return snapshot(&claim), nil
}

func (s *idempotencyKeys) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	held, ok := s.records[key]
	if !ok || !held.Live(s.now()) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return snapshot(held), nil
}

func (s *idempotencyKeys) MarkDone(key string, responseBody []byte, resultCode int) error {
	return s.update(key, func(held *domain.IdempotencyRecord) (bool, error) {
		held.Settle(domain.IdempotencyStatusDone, responseBody, resultCode, s.now())
		return false, nil
	})
}

func (s *idempotencyKeys) MarkFailed(key string, responseBody []byte, resultCode int) error {
	return s.update(key, func(held *domain.IdempotencyRecord) (bool, error) {
		held.Settle(domain.IdempotencyStatusFailed, responseBody, resultCode, s.now())
		return false, nil
	})
}

// Release удаляет ключ, пока запрос с ним не завершён.
func (s *idempotencyKeys) Release(key string) error {
	return s.update(key, func(held *domain.IdempotencyRecord) (bool, error) {
		if held.Status != domain.IdempotencyStatusProcessing {
			return false, domain.ErrIdempotencyKeyNotFound
		}
		return true, nil
	})
}

// DeleteExpired удаляет истёкшие к before ключи, начиная с самых старых. limit <= 0 снимает ограничение.
func (s *idempotencyKeys) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*domain.IdempotencyRecord
	for _, held := range s.records {
		if !held.Live(before) {
			expired = append(expired, held)
		}
	}
	slices.SortFunc(expired, func(a, b *domain.IdempotencyRecord) int { return a.TTLAt.Compare(b.TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, held := range expired {
		delete(s.records, held.Key)
	}
	return len(expired), nil
}

// update применяет fn к записи под блокировкой; drop=true удаляет запись.
func (s *idempotencyKeys) update(key string, fn func(held *domain.IdempotencyRecord) (drop bool, err error)) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	drop, err := fn(held)
	if err != nil {
		return err
	}
	if drop {
		delete(s.records, key)
	}
	return nil
}

func snapshot(held *domain.IdempotencyRecord) domain.IdempotencyRecord {
	out := *held
	out.ResponseBody = append([]byte(nil), held.ResponseBody...)
	return out
}

var _ domain.IdempotencyRepository = (*idempotencyKeys)(nil)
