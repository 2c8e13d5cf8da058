package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"

	defaultOutboxBatch = 100
	// outboxLease — сколько выбранное сообщение скрыто от других реплик.
	outboxLease = 30 * time.Second
)

type outboxRepository struct {
	db    *sql.DB
	now   func() time.Time
	lease time.Duration
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
//
// Несколько экземпляров сервиса могут разбирать одну таблицу: PullPending
// арендует сообщения на outboxLease, а сообщение агрегата не выдаётся, пока
// более раннее событие того же агрегата арендовано другим воркером.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{
		db:    store.DB(),
		now:   func() time.Time { return time.Now().UTC() },
		lease: outboxLease,
	}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := r.now()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxPending, now); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s %s: %w", msg.EventType, msg.AggregateType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending арендует до limit сообщений в порядке вставки.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	now := r.now()

	rows, err := r.db.QueryContext(ctx, `
		WITH batch AS (
			SELECT m.id
			FROM outbox_messages m
			WHERE m.status = $1
			  AND (m.claimed_until IS NULL OR m.claimed_until <= $2)
			  AND NOT EXISTS (
				SELECT 1 FROM outbox_messages prev
				WHERE prev.aggregate_type = m.aggregate_type
				  AND prev.aggregate_id = m.aggregate_id
				  AND prev.status = $1
				  AND prev.seq < m.seq
				  AND prev.claimed_until > $2
			  )
			ORDER BY m.seq
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages o
		SET claimed_until = $4
		FROM batch
		WHERE o.id = batch.id
		RETURNING o.seq, o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload
	`, outboxPending, now, limit, now.Add(r.lease))
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		seq int64
		msg domain.OutboxMessage
	}
	batch := make([]claimed, 0, limit)
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.seq, &c.msg.ID, &c.msg.AggregateType, &c.msg.AggregateID, &c.msg.EventType, &c.msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	// RETURNING не гарантирует порядок.
	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })
	result := make([]domain.OutboxMessage, len(batch))
	for i, c := range batch {
		result[i] = c.msg
	}
	return result, nil
}

// Stats учитывает и арендованные сообщения: они ещё не опубликованы.
func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = $1
	`, outboxPending).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.settle(id, outboxSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.settle(id, outboxFailed)
}

// settle переводит pending-сообщение в конечный статус и снимает аренду.
func (r *outboxRepository) settle(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    claimed_until = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, status, r.now(), outboxPending)
	if err != nil {
		return fmt.Errorf("mark outbox message %s %s: %w", id, status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox message %s %s: %w", id, status, err)
	}
	if affected == 0 {
		return fmt.Errorf("outbox message %s is not pending: %w", id, domain.ErrOutboxPublish)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
