package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func seedProduct(t *testing.T, repo domain.ProductRepository, stock int64) domain.Product {
	t.Helper()
	p, err := repo.Create(context.Background(), domain.Product{
		Name:  "Widget",
		Price: decimal.RequireFromString("9.50"),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func reservation(productID, qty int64) domain.Reservation {
	return domain.Reservation{ID: uuid.NewString(), ProductID: productID, Quantity: qty}
}

func TestProductRepository_ReserveDecrementsStock(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	p := seedProduct(t, repo, 5)

	res, err := repo.Reserve(ctx, reservation(p.ID, 2))
	require.NoError(t, err)
	require.Equal(t, domain.ReservationStatusReserved, res.Status)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), got.Stock)
}

func TestProductRepository_ReserveInsufficientLeavesStock(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	p := seedProduct(t, repo, 1)

	_, err := repo.Reserve(ctx, reservation(p.ID, 2))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Stock)

	all, err := repo.ListReservations(ctx, domain.ReservationFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestProductRepository_ReserveUnknownProduct(t *testing.T) {
	repo := memory.NewProductRepository()
	_, err := repo.Reserve(context.Background(), reservation(42, 1))
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestProductRepository_ConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	const stock, workers = 25, 200
	p := seedProduct(t, repo, stock)

	var (
		wg           sync.WaitGroup
		ok, rejected atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Reserve(ctx, reservation(p.ID, 1))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(stock), ok.Load())
	require.Equal(t, int64(workers-stock), rejected.Load())

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Zero(t, got.Stock)
}

func TestProductRepository_ReleaseRestoresStockOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	p := seedProduct(t, repo, 5)

	res, err := repo.Reserve(ctx, reservation(p.ID, 3))
	require.NoError(t, err)

	released, err := repo.ReleaseReservation(ctx, res.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationStatusReleased, released.Status)

	_, err = repo.ReleaseReservation(ctx, res.ID)
	require.ErrorIs(t, err, domain.ErrReservationState)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Stock)
}

func TestProductRepository_CommitReservation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	p := seedProduct(t, repo, 5)

	res, err := repo.Reserve(ctx, reservation(p.ID, 1))
	require.NoError(t, err)

	require.NoError(t, repo.CommitReservation(ctx, res.ID, 10))
	require.NoError(t, repo.CommitReservation(ctx, res.ID, 10))
	require.ErrorIs(t, repo.CommitReservation(ctx, res.ID, 11), domain.ErrReservationState)
	require.ErrorIs(t, repo.CommitReservation(ctx, "missing", 1), domain.ErrReservationNotFound)

	_, err = repo.ReleaseReservation(ctx, res.ID)
	require.ErrorIs(t, err, domain.ErrReservationState)

	committed, err := repo.ListReservations(ctx, domain.ReservationFilter{Status: domain.ReservationStatusCommitted})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	require.Equal(t, int64(10), committed[0].OrderID)
}

func TestProductRepository_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	p := seedProduct(t, repo, 5)

	p.Name = "Widget v2"
	p.Stock = 8
	updated, err := repo.Update(ctx, p)
	require.NoError(t, err)
	require.Equal(t, "Widget v2", updated.Name)

	require.NoError(t, repo.Delete(ctx, p.ID))
	_, err = repo.Get(ctx, p.ID)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.ErrorIs(t, repo.Delete(ctx, p.ID), domain.ErrProductNotFound)
}
