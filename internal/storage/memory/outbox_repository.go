package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type outboxStatus string

const (
	outboxPending outboxStatus = "pending"
	outboxSent    outboxStatus = "sent"
	outboxFailed  outboxStatus = "failed"
)

type outboxRecord struct {
	seq       uint64
	msg       domain.OutboxMessage
	status    outboxStatus
	attempts  int
	createdAt time.Time
}

// OutboxRepository — in-memory transactional outbox с сохранением порядка вставки.
type OutboxRepository struct {
	mu      sync.RWMutex
	seq     uint64
	records map[string]*outboxRecord
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{records: make(map[string]*outboxRecord)}
}

// Enqueue сохраняет событие со статусом pending.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	r.seq++
	r.records[msg.ID] = &outboxRecord{
		seq:       r.seq,
		msg:       msg,
		status:    outboxPending,
		createdAt: time.Now().UTC(),
	}
	return msg, nil
}

// PullPending возвращает до limit pending-сообщений в порядке постановки.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	recs := r.byStatus(outboxPending)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(recs))
	for _, rec := range recs {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats считает backlog pending-сообщений.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	recs := r.byStatus(outboxPending)
	stats := domain.OutboxStats{PendingCount: len(recs)}
	if len(recs) > 0 {
		stats.OldestPendingAt = recs[0].createdAt
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.mark(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.mark(id, outboxFailed)
}

// Messages возвращает сообщения заданного типа события (для тестов и отладки).
func (r *OutboxRepository) Messages(eventType string) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]*outboxRecord, 0)
	for _, rec := range r.records {
		if eventType == "" || rec.msg.EventType == eventType {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	result := make([]domain.OutboxMessage, 0, len(recs))
	for _, rec := range recs {
		result = append(result, rec.msg)
	}
	return result
}

func (r *OutboxRepository) mark(id string, status outboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = status
	rec.attempts++
	return nil
}

func (r *OutboxRepository) byStatus(status outboxStatus) []*outboxRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*outboxRecord, 0)
	for _, rec := range r.records {
		if rec.status == status {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
