package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var cleanupNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// countingRepo считает вызовы DeleteExpired поверх настоящего in-memory хранилища.
type countingRepo struct {
	domain.IdempotencyRepository

	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
	failOn  int
}

func (r *countingRepo) DeleteExpired(before time.Time, limit int) (int, error) {
	r.mu.Lock()
	r.calls++
	r.cutoffs = append(r.cutoffs, before)
	call := r.calls
	r.mu.Unlock()

	if call == r.failOn {
		return 0, errors.New("storage offline")
	}
	return r.IdempotencyRepository.DeleteExpired(before, limit)
}

func (r *countingRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func seededRepo(t *testing.T, expired, live int) *countingRepo {
	t.Helper()
	repo := memory.NewIdempotencyRepository()
	for i := range expired {
		_, err := repo.CreateProcessing(fmt.Sprintf("expired-%d", i), "h", cleanupNow.Add(-time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
	}
	for i := range live {
		_, err := repo.CreateProcessing(fmt.Sprintf("live-%d", i), "h", cleanupNow.Add(time.Hour))
		require.NoError(t, err)
	}
	return &countingRepo{IdempotencyRepository: repo}
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func TestCleanupWorkerDeletesInBatches(t *testing.T) {
	t.Parallel()

	repo := seededRepo(t, 5, 2)
	worker := NewCleanupWorker(repo, WithBatchSize(2), WithLogger(quietLogger()))

	deleted, err := worker.DeleteExpired(context.Background(), cleanupNow)
	require.NoError(t, err)
	require.Equal(t, 5, deleted)
	require.Equal(t, 3, repo.callCount())

	_, err = repo.Get("live-0")
	require.NoError(t, err)
}

func TestCleanupWorkerStopsAtBatchLimit(t *testing.T) {
	t.Parallel()

	repo := seededRepo(t, 7, 0)
	worker := NewCleanupWorker(repo,
		WithBatchSize(2),
		WithMaxBatches(2),
		WithClock(func() time.Time { return cleanupNow }),
	)

	deleted, err := worker.DeleteExpired(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, 4, deleted)
	require.Equal(t, []time.Time{cleanupNow, cleanupNow}, repo.cutoffs)

	deleted, err = worker.DeleteExpired(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, 3, deleted)
}

func TestCleanupWorkerReturnsPartialCountOnError(t *testing.T) {
	t.Parallel()

	repo := seededRepo(t, 4, 0)
	repo.failOn = 2
	worker := NewCleanupWorker(repo, WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), cleanupNow)
	require.ErrorContains(t, err, "storage offline")
	require.Equal(t, 2, deleted)
}

func TestCleanupWorkerHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := seededRepo(t, 1, 0)
	_, err := NewCleanupWorker(repo).DeleteExpired(ctx, cleanupNow)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, repo.callCount())
}

func TestCleanupWorkerRunSweepsUntilCancelled(t *testing.T) {
	t.Parallel()

	repo := seededRepo(t, 3, 1)
	worker := NewCleanupWorker(repo,
		WithInterval(5*time.Millisecond),
		WithClock(func() time.Time { return cleanupNow }),
		WithLogger(quietLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop after cancel")
	}

	_, err := repo.Get("expired-0")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestCleanupWorkerWithoutRepositoryReturnsImmediately(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewCleanupWorker(nil, WithLogger(quietLogger())).Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run without repository must return")
	}
}
