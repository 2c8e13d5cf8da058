package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestTimelineRepository_PostgresOrdersByOccurrence(t *testing.T) {
	store := integrationStore(t)
	timeline := NewTimelineRepository(store)

	base := time.Now().UTC().Add(-time.Minute).Round(time.Microsecond)
	order, err := NewOrderRepository(store).Create(context.Background(), sampleOrder("res-timeline", base))
	require.NoError(t, err)

	// Отмена записана раньше создания, но List упорядочивает по времени события.
	require.NoError(t, timeline.Append(domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderCancelled,
		Reason:   "deleted by user",
		Occurred: base.Add(30 * time.Second),
	}))
	require.NoError(t, timeline.Append(domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     "  " + domain.TimelineOrderCreated + " ",
		Occurred: base,
	}))

	events, err := timeline.List(order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	require.Equal(t, domain.TimelineOrderCancelled, events[1].Type)
	require.Equal(t, "deleted by user", events[1].Reason)
	require.True(t, events[0].Occurred.Equal(base), "occurred: %s", events[0].Occurred)
}

func TestTimelineRepository_PostgresRejectsInvalidEvents(t *testing.T) {
	store := integrationStore(t)
	timeline := NewTimelineRepository(store)

	require.ErrorIs(t, timeline.Append(domain.TimelineEvent{Type: domain.TimelineOrderCreated}), domain.ErrInvalidRequest)
	require.ErrorIs(t, timeline.Append(domain.TimelineEvent{OrderID: 1, Type: " "}), domain.ErrInvalidRequest)
	require.Error(t, timeline.Append(domain.TimelineEvent{OrderID: 999999, Type: domain.TimelineOrderCreated}),
		"orders foreign key must reject unknown order")

	events, err := timeline.List(999999)
	require.NoError(t, err)
	require.Empty(t, events)
}
