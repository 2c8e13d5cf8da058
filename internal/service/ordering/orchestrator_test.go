package ordering

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "ordering-test")
}

// stubDirectory — справочник с фиксированными ID и счётчиком вызовов.
type stubDirectory struct {
	mu    sync.Mutex
	users map[int64]domain.User
	calls int
	errs  []error
	delay time.Duration
}

func newStubDirectory(users ...domain.User) *stubDirectory {
	d := &stubDirectory{users: make(map[int64]domain.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *stubDirectory) rename(id int64, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := d.users[id]
	u.Name = name
	d.users[id] = u
}

func (d *stubDirectory) Lookup(ctx context.Context, id int64) (domain.User, error) {
	d.mu.Lock()
	d.calls++
	var scripted error
	if len(d.errs) > 0 {
		scripted, d.errs = d.errs[0], d.errs[1:]
	}
	u, ok := d.users[id]
	delay := d.delay
	d.mu.Unlock()

	if scripted != nil {
		return domain.User{}, scripted
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return domain.User{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

// scriptedCatalog оборачивает настоящий каталог и умеет тормозить или падать.
type scriptedCatalog struct {
	domain.ProductCatalog

	mu           sync.Mutex
	lookupDelay  time.Duration
	reserveDelay time.Duration
	lookupErrs   []error
	lookups      int
	reserves     int
}

func (c *scriptedCatalog) Lookup(ctx context.Context, id int64) (domain.Product, error) {
	c.mu.Lock()
	c.lookups++
	var scripted error
	if len(c.lookupErrs) > 0 {
		scripted, c.lookupErrs = c.lookupErrs[0], c.lookupErrs[1:]
	}
	delay := c.lookupDelay
	c.mu.Unlock()

	if scripted != nil {
		return domain.Product{}, scripted
	}
	if err := sleepCtx(ctx, delay); err != nil {
		return domain.Product{}, err
	}
	return c.ProductCatalog.Lookup(ctx, id)
}

func (c *scriptedCatalog) ReserveStock(ctx context.Context, productID, qty int64) (domain.Reservation, error) {
	c.mu.Lock()
	c.reserves++
	delay := c.reserveDelay
	c.mu.Unlock()

	if err := sleepCtx(ctx, delay); err != nil {
		return domain.Reservation{}, err
	}
	return c.ProductCatalog.ReserveStock(ctx, productID, qty)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// failingStore отказывает в Create, остальное делегирует.
type failingStore struct {
	domain.OrderStore
	err error
}

func (s *failingStore) Create(context.Context, domain.Order) (domain.Order, error) {
	return domain.Order{}, s.err
}

type fixture struct {
	store    *memory.Store
	catalog  *catalog.Service
	products *scriptedCatalog
	users    *stubDirectory
	outbox   *memory.OutboxRepository
	widget   domain.Product
}

func newFixture(t *testing.T, stock int64) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	outbox := memory.NewOutboxRepository()
	store.Outbox = outbox
	cat := catalog.NewService(store.Products, catalog.WithLogger(testLogger()))

	// товары 1 и 2 — наполнитель, чтобы Widget получил ID 3
	for _, name := range []string{"Filler A", "Filler B"} {
		_, err := cat.Create(ctx, domain.Product{Name: name, Price: decimal.NewFromInt(1), Stock: 1})
		require.NoError(t, err)
	}
	widget, err := cat.Create(ctx, domain.Product{Name: "Widget", Price: decimal.RequireFromString("9.50"), Stock: stock})
	require.NoError(t, err)
	require.Equal(t, int64(3), widget.ID)

	return &fixture{
		store:    store,
		catalog:  cat,
		products: &scriptedCatalog{ProductCatalog: cat},
		users:    newStubDirectory(domain.User{ID: 7, Name: "Ada", Email: "ada@example.com"}),
		outbox:   outbox,
		widget:   widget,
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	base := []Option{
		WithLogger(testLogger()),
		WithOutbox(f.outbox),
		WithTimeline(f.store.Timeline),
	}
	return NewOrchestrator(f.users, f.products, f.store.Orders, append(base, opts...)...)
}

func (f *fixture) stock(t *testing.T) int64 {
	t.Helper()
	p, err := f.catalog.Lookup(context.Background(), f.widget.ID)
	require.NoError(t, err)
	return p.Stock
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.CallTimeout = 30 * time.Millisecond
	cfg.LookupRetry = RetryConfig{MaxAttempts: 1}
	return cfg
}

func TestCreateOrder_HappyPath(t *testing.T) {
	f := newFixture(t, 5)
	o := f.orchestrator()

	order, err := o.CreateOrder(context.Background(), domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 2})
	require.NoError(t, err)

	require.Positive(t, order.ID)
	require.Equal(t, int64(7), order.UserID)
	require.Equal(t, "Ada", order.UserName)
	require.Equal(t, int64(3), order.ProductID)
	require.Equal(t, "Widget", order.ProductName)
	require.Equal(t, int64(2), order.Quantity)
	require.Equal(t, "19.00", order.TotalAmount.StringFixed(2))
	require.Equal(t, domain.OrderStatusCreated, order.Status)
	require.False(t, order.CreatedAt.IsZero())
	require.Equal(t, int64(3), f.stock(t))

	stored, err := o.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, order, stored)

	res, err := f.catalog.ListReservations(context.Background(), domain.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, domain.ReservationStatusCommitted, res[0].Status)
	require.Equal(t, order.ID, res[0].OrderID)

	events := f.outbox.Messages(string(kafka.EventTypeOrderCreated))
	require.Len(t, events, 1)
	require.Equal(t, "19.00", mustOrderEvent(t, events[0]).TotalAmount)

	timeline, err := o.Timeline(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	require.Equal(t, domain.TimelineOrderCreated, timeline[0].Type)
}

func mustOrderEvent(t *testing.T, msg domain.OutboxMessage) *kafka.OrderEvent {
	t.Helper()
	event, err := (&kafka.Envelope{Payload: msg.Payload}).OrderEvent()
	require.NoError(t, err)
	return event
}

func TestCreateOrder_TotalIsExactProduct(t *testing.T) {
	f := newFixture(t, 5)
	o := f.orchestrator()
	ctx := context.Background()

	gadget, err := f.catalog.Create(ctx, domain.Product{Name: "Gadget", Price: decimal.RequireFromString("0.99"), Stock: 10})
	require.NoError(t, err)
	order, err := o.CreateOrder(ctx, domain.OrderRequest{UserID: 7, ProductID: gadget.ID, Quantity: 7})
	require.NoError(t, err)
	require.True(t, order.TotalAmount.Equal(order.UnitPrice.Mul(decimal.NewFromInt(7))))
	require.Equal(t, "6.93", order.TotalAmount.StringFixed(domain.MoneyScale))

	// Цена с лишними знаками не проходит через каталог.
	_, err = f.catalog.Create(ctx, domain.Product{Name: "Bolt", Price: decimal.RequireFromString("0.125"), Stock: 1})
	require.ErrorIs(t, err, domain.ErrProductPriceScale)

	// Записанная в обход каталога цена не округляется при расчёте суммы.
	bolt, err := f.store.Products.Create(ctx, domain.Product{Name: "Bolt", Price: decimal.RequireFromString("0.125"), Stock: 1})
	require.NoError(t, err)
	order, err = o.CreateOrder(ctx, domain.OrderRequest{UserID: 7, ProductID: bolt.ID, Quantity: 1})
	require.NoError(t, err)
	require.True(t, order.TotalAmount.Equal(decimal.RequireFromString("0.125")), "total %s", order.TotalAmount)
}

func TestCreateOrder_InsufficientStockHasNoSideEffects(t *testing.T) {
	f := newFixture(t, 1)
	o := f.orchestrator()

	_, err := o.CreateOrder(context.Background(), domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 2})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, domain.CodeInsufficientStock, domain.CodeOf(err))

	require.Equal(t, int64(1), f.stock(t))
	orders, err := o.ListOrders(context.Background())
	require.NoError(t, err)
	require.Empty(t, orders)
	require.Empty(t, f.outbox.Messages(""))
}

func TestCreateOrder_LookupOrderAndNotFound(t *testing.T) {
	cases := []struct {
		name    string
		req     domain.OrderRequest
		wantErr error
	}{
		{name: "both missing reports product", req: domain.OrderRequest{UserID: 404, ProductID: 404, Quantity: 1}, wantErr: domain.ErrProductNotFound},
		{name: "product missing", req: domain.OrderRequest{UserID: 7, ProductID: 404, Quantity: 1}, wantErr: domain.ErrProductNotFound},
		{name: "user missing", req: domain.OrderRequest{UserID: 404, ProductID: 3, Quantity: 1}, wantErr: domain.ErrUserNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 5)
			o := f.orchestrator()

			_, err := o.CreateOrder(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, int64(5), f.stock(t))
			require.Zero(t, f.products.reserves)
		})
	}
}

func TestCreateOrder_InvalidRequestSkipsCollaborators(t *testing.T) {
	cases := []domain.OrderRequest{
		{ProductID: 3, Quantity: 1},
		{UserID: 7, Quantity: 1},
		{UserID: 7, ProductID: 3},
		{UserID: 7, ProductID: 3, Quantity: -1},
	}

	for _, req := range cases {
		f := newFixture(t, 5)
		o := f.orchestrator()

		_, err := o.CreateOrder(context.Background(), req)
		require.ErrorIs(t, err, domain.ErrInvalidRequest)
		require.Zero(t, f.products.lookups)
		require.Zero(t, f.users.calls)
		require.Zero(t, f.products.reserves)
	}
}

func TestCreateOrder_ConcurrentOrdersNeverOversell(t *testing.T) {
	const stock, buyers = 10, 60
	f := newFixture(t, stock)
	o := f.orchestrator()

	var (
		wg                 sync.WaitGroup
		mu                 sync.Mutex
		succeeded, refused int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.CreateOrder(context.Background(), domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, stock, succeeded)
	require.Equal(t, buyers-stock, refused)
	require.Zero(t, f.stock(t))

	orders, err := o.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, stock)
}

func TestCreateOrder_SnapshotSurvivesSourceChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	o := f.orchestrator()

	order, err := o.CreateOrder(ctx, domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 1})
	require.NoError(t, err)

	f.users.rename(7, "Grace")
	_, err = f.catalog.Update(ctx, f.widget.ID, domain.Product{Name: "Gadget", Price: decimal.NewFromInt(100), Stock: 50})
	require.NoError(t, err)

	stored, err := o.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, "Ada", stored.UserName)
	require.Equal(t, "Widget", stored.ProductName)
	require.Equal(t, "9.50", stored.TotalAmount.StringFixed(2))
}

func TestCreateOrder_PersistenceFailureKeepsReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	reg := prometheus.NewRegistry()
	m := metrics.NewOrderMetricsWithRegisterer(reg)

	store := &failingStore{OrderStore: f.store.Orders, err: errors.New("connection reset")}
	o := NewOrchestrator(f.users, f.products, store, WithLogger(testLogger()), WithOutbox(f.outbox), WithMetrics(m))

	_, err := o.CreateOrder(ctx, domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 2})
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)
	require.Equal(t, domain.CodePersistenceFailure, domain.CodeOf(err))

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.NotEmpty(t, perr.ReservationID)
	require.Equal(t, int64(2), perr.Quantity)

	// резерв не откатывается
	require.Equal(t, int64(3), f.stock(t))
	pending, err := f.catalog.ListReservations(ctx, domain.ReservationFilter{Status: domain.ReservationStatusReserved})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, perr.ReservationID, pending[0].ID)

	failed := f.outbox.Messages(string(kafka.EventTypeOrderPersistenceFailed))
	require.Len(t, failed, 1)
	require.Equal(t, perr.ReservationID, failed[0].AggregateID)

	families, err := reg.Gather()
	require.NoError(t, err)
	var persistenceFailures float64
	for _, mf := range families {
		if mf.GetName() != "storefront_order_failures_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if metric.GetLabel()[0].GetValue() == string(domain.CodePersistenceFailure) {
				persistenceFailures = metric.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, 1.0, persistenceFailures)
}

func TestCreateOrder_LookupTimeoutIsUnavailable(t *testing.T) {
	f := newFixture(t, 5)
	f.products.lookupDelay = time.Second
	o := f.orchestrator(WithConfig(fastConfig()))

	_, err := o.CreateOrder(context.Background(), domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, f.users.calls)
	require.Equal(t, int64(5), f.stock(t))
}

func TestCreateOrder_UserLookupTimeoutIsUnavailable(t *testing.T) {
	f := newFixture(t, 5)
	f.users.delay = time.Second
	o := f.orchestrator(WithConfig(fastConfig()))

	_, err := o.CreateOrder(context.Background(), domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	require.Zero(t, f.products.reserves)
}

func TestCreateOrder_ReserveTimeoutPersistsNothing(t *testing.T) {
	f := newFixture(t, 5)
	f.products.reserveDelay = time.Second
	o := f.orchestrator(WithConfig(fastConfig()))

	_, err := o.CreateOrder(context.Background(), domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)

	orders, err := o.ListOrders(context.Background())
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestCreateOrder_LookupRetriedOnUnavailable(t *testing.T) {
	f := newFixture(t, 5)
	f.products.lookupErrs = []error{domain.ErrCollaboratorUnavailable}
	cfg := fastConfig()
	cfg.LookupRetry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}
	o := f.orchestrator(WithConfig(cfg))

	_, err := o.CreateOrder(context.Background(), domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, 2, f.products.lookups)
}

func TestCreateOrder_BreakerFailsFast(t *testing.T) {
	f := newFixture(t, 5)
	unavailable := errors.New("dial tcp: connection refused")
	f.products.lookupErrs = []error{unavailable, unavailable, unavailable}
	cfg := fastConfig()
	cfg.BreakerMaxFailures = 2
	cfg.BreakerResetTimeout = time.Hour
	o := f.orchestrator(WithConfig(cfg))

	req := domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 1}
	for i := 0; i < 2; i++ {
		_, err := o.CreateOrder(context.Background(), req)
		require.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	}

	_, err := o.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 2, f.products.lookups)
}

func TestDeleteOrder_CancelsWithoutRestoringStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	o := f.orchestrator()

	order, err := o.CreateOrder(ctx, domain.OrderRequest{UserID: 7, ProductID: 3, Quantity: 2})
	require.NoError(t, err)

	cancelled, err := o.DeleteOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.Equal(t, int64(3), f.stock(t))

	_, err = o.DeleteOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, f.outbox.Messages(string(kafka.EventTypeOrderCancelled)), 1)

	stored, err := o.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, stored.Status)

	_, err = o.DeleteOrder(ctx, 999)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = o.GetOrder(ctx, 999)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = o.Timeline(ctx, 999)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
