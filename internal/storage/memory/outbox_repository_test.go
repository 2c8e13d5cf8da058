package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestOutboxRepository_EnqueueAndPullKeepsOrder(t *testing.T) {
	repo := NewOutboxRepository()

	for _, evt := range []string{"OrderCreated", "OrderCancelled", "ReservationOrphaned"} {
		_, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "1", EventType: evt})
		require.NoError(t, err)
	}

	pending, err := repo.PullPending(2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "OrderCreated", pending[0].EventType)
	require.Equal(t, "OrderCancelled", pending[1].EventType)
	require.NotEmpty(t, pending[0].ID)

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 3, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	repo := NewOutboxRepository()

	saved, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", EventType: "OrderCreated"})
	require.NoError(t, err)

	require.NoError(t, repo.MarkSent(saved.ID))
	pending, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, repo.MarkFailed(saved.ID))
	require.ErrorIs(t, repo.MarkFailed("missing"), domain.ErrOutboxPublish)

	require.Len(t, repo.Messages("OrderCreated"), 1)
	require.Empty(t, repo.Messages("OrderCancelled"))
}
