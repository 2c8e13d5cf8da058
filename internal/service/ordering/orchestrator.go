package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCallTimeout         = 2 * time.Second
	defaultBreakerMaxFailures  = 5
	defaultBreakerResetTimeout = 30 * time.Second

	aggregateOrder       = "order"
	aggregateReservation = "reservation"
)

// Config задаёт таймауты и защиту вызовов коллабораторов.
type Config struct {
	// CallTimeout ограничивает каждый отдельный вызов справочника, каталога и хранилища.
	CallTimeout         time.Duration
	LookupRetry         RetryConfig
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		CallTimeout:         defaultCallTimeout,
		LookupRetry:         DefaultRetryConfig(),
		BreakerMaxFailures:  defaultBreakerMaxFailures,
		BreakerResetTimeout: defaultBreakerResetTimeout,
	}
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithConfig задаёт таймауты, retry и параметры breaker.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithOutbox включает публикацию событий через transactional outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(o *Orchestrator) { o.outbox = repo }
}

// WithTimeline включает запись таймлайна заказов.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(o *Orchestrator) { o.timeline = repo }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator оформляет заказы: валидация, снимки пользователя и товара,
// резерв стока и сохранение денормализованной записи.
type Orchestrator struct {
	users   domain.UserDirectory
	catalog domain.ProductCatalog
	orders  domain.OrderStore

	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	now      func() time.Time
	cfg      Config

	userBreaker    *CircuitBreaker
	productBreaker *CircuitBreaker
}

// NewOrchestrator создаёт оркестратор поверх трёх коллабораторов.
func NewOrchestrator(users domain.UserDirectory, catalog domain.ProductCatalog, orders domain.OrderStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		users:   users,
		catalog: catalog,
		orders:  orders,
		logger:  log.WithField("component", "order-orchestrator"),
		now:     func() time.Time { return time.Now().UTC() },
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.CallTimeout <= 0 {
		o.cfg.CallTimeout = defaultCallTimeout
	}
	if o.cfg.BreakerResetTimeout <= 0 {
		o.cfg.BreakerResetTimeout = defaultBreakerResetTimeout
	}

	o.userBreaker = NewCircuitBreaker("user-directory", o.cfg.BreakerMaxFailures, o.cfg.BreakerResetTimeout, o.logger)
	o.productBreaker = NewCircuitBreaker("product-catalog", o.cfg.BreakerMaxFailures, o.cfg.BreakerResetTimeout, o.logger)
	if o.metrics != nil {
		report := func(name string, state CircuitState) { o.metrics.SetBreakerState(name, int(state)) }
		o.userBreaker.onState = report
		o.productBreaker.onState = report
	}
	return o
}

// CreateOrder оформляет заказ. Порядок шагов фиксирован: товар ищется раньше
// пользователя, поэтому при отсутствии обоих возвращается ErrProductNotFound.
// Сбой сохранения после успешного резерва не откатывает резерв: ошибка несёт
// ReservationID для сверки.
func (o *Orchestrator) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordCreateStarted()
		defer func() { o.metrics.RecordCreateFinished(time.Since(start)) }()
	}

	logger := o.logger.WithFields(log.Fields{
		"user_id":    req.UserID,
		"product_id": req.ProductID,
		"qty":        req.Quantity,
	})

	if err := req.Validate(); err != nil {
		return domain.Order{}, o.fail(logger, err)
	}

	product, err := o.lookupProduct(ctx, req.ProductID)
	if err != nil {
		return domain.Order{}, o.fail(logger, err)
	}

	user, err := o.lookupUser(ctx, req.UserID)
	if err != nil {
		return domain.Order{}, o.fail(logger, err)
	}

	reservation, err := o.reserve(ctx, req.ProductID, req.Quantity)
	if err != nil {
		return domain.Order{}, o.fail(logger, err)
	}
	logger = logger.WithField("reservation_id", reservation.ID)

	order := domain.NewOrder(req, user, product, reservation.ID, o.now())

	saved, err := o.persist(ctx, order)
	if err != nil {
		perr := &domain.PersistenceError{
			ReservationID: reservation.ID,
			ProductID:     req.ProductID,
			Quantity:      req.Quantity,
			Err:           err,
		}
		logger.WithError(err).Error("order persistence failed after stock reservation; reservation left for reconciliation")
		o.emit(aggregateReservation, reservation.ID, kafka.EventTypeOrderPersistenceFailed, &kafka.OrderEvent{
			UserID:        req.UserID,
			ProductID:     req.ProductID,
			Quantity:      req.Quantity,
			TotalAmount:   order.TotalAmount.StringFixed(domain.MoneyScale),
			ReservationID: reservation.ID,
			Reason:        err.Error(),
		})
		return domain.Order{}, o.fail(logger, perr)
	}

	o.commit(ctx, logger, reservation.ID, saved.ID)

	o.appendTimeline(saved.ID, domain.TimelineOrderCreated, "")
	o.emit(aggregateOrder, strconv.FormatInt(saved.ID, 10), kafka.EventTypeOrderCreated, orderEvent(saved))
	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
	}

	logger.WithFields(log.Fields{
		"order_id":     saved.ID,
		"total_amount": saved.TotalAmount.StringFixed(domain.MoneyScale),
	}).Info("order created")
	return saved, nil
}

// GetOrder возвращает заказ или ErrOrderNotFound.
func (o *Orchestrator) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return o.orders.Get(ctx, id)
}

// ListOrders возвращает все заказы.
func (o *Orchestrator) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return o.orders.List(ctx)
}

// Timeline возвращает события заказа; для неизвестного заказа — ErrOrderNotFound.
func (o *Orchestrator) Timeline(ctx context.Context, id int64) ([]domain.TimelineEvent, error) {
	if _, err := o.orders.Get(ctx, id); err != nil {
		return nil, err
	}
	if o.timeline == nil {
		return nil, nil
	}
	return o.timeline.List(id)
}

// DeleteOrder отменяет заказ (статус CANCELLED). Сток не возвращается.
func (o *Orchestrator) DeleteOrder(ctx context.Context, id int64) (domain.Order, error) {
	order, changed, err := o.orders.Cancel(ctx, id, o.now())
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		return order, nil
	}

	o.appendTimeline(order.ID, domain.TimelineOrderCancelled, "deleted")
	o.emit(aggregateOrder, strconv.FormatInt(order.ID, 10), kafka.EventTypeOrderCancelled, orderEvent(order))
	if o.metrics != nil {
		o.metrics.RecordOrderCancelled()
	}
	o.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"reservation_id": order.ReservationID,
	}).Info("order cancelled, stock is not restored")
	return order, nil
}

func (o *Orchestrator) lookupProduct(ctx context.Context, id int64) (domain.Product, error) {
	defer o.observeStep(domain.OrderStepLookupProduct, time.Now())

	var product domain.Product
	err := retryRead(ctx, o.cfg.LookupRetry, o.logger, string(domain.OrderStepLookupProduct), func() error {
		return o.productBreaker.Execute(func() error {
			p, err := callWithTimeout(ctx, o.cfg.CallTimeout, func(c context.Context) (domain.Product, error) {
				return o.catalog.Lookup(c, id)
			})
			if err != nil {
				return classify(domain.OrderStepLookupProduct, err, domain.ErrProductNotFound)
			}
			product = p
			return nil
		})
	})
	return product, err
}

func (o *Orchestrator) lookupUser(ctx context.Context, id int64) (domain.User, error) {
	defer o.observeStep(domain.OrderStepLookupUser, time.Now())

	var user domain.User
	err := retryRead(ctx, o.cfg.LookupRetry, o.logger, string(domain.OrderStepLookupUser), func() error {
		return o.userBreaker.Execute(func() error {
			u, err := callWithTimeout(ctx, o.cfg.CallTimeout, func(c context.Context) (domain.User, error) {
				return o.users.Lookup(c, id)
			})
			if err != nil {
				return classify(domain.OrderStepLookupUser, err, domain.ErrUserNotFound)
			}
			user = u
			return nil
		})
	})
	return user, err
}

// reserve не повторяется: повтор мог бы списать сток дважды.
// После таймаута callWithTimeout ReserveStock может всё же завершиться в брошенной горутине:
// такая бронь не попадает в заказ, клиент видит CollaboratorUnavailable, а бронь
// остаётся reserved до сверки (reconcile помечает её как orphaned).
func (o *Orchestrator) reserve(ctx context.Context, productID, qty int64) (domain.Reservation, error) {
	defer o.observeStep(domain.OrderStepReserve, time.Now())

	var reservation domain.Reservation
	err := o.productBreaker.Execute(func() error {
		res, err := callWithTimeout(ctx, o.cfg.CallTimeout, func(c context.Context) (domain.Reservation, error) {
			return o.catalog.ReserveStock(c, productID, qty)
		})
		if err != nil {
			return classify(domain.OrderStepReserve, err, domain.ErrInsufficientStock, domain.ErrProductNotFound)
		}
		reservation = res
		return nil
	})
	return reservation, err
}

func (o *Orchestrator) persist(ctx context.Context, order domain.Order) (domain.Order, error) {
	defer o.observeStep(domain.OrderStepPersist, time.Now())

	return callWithTimeout(ctx, o.cfg.CallTimeout, func(c context.Context) (domain.Order, error) {
		return o.orders.Create(c, order)
	})
}

// commit закрывает резерв в журнале каталога. Ошибка не влияет на результат
// createOrder: незакрытый резерв с существующим заказом долечит reconcile.
func (o *Orchestrator) commit(ctx context.Context, logger *log.Entry, reservationID string, orderID int64) {
	defer o.observeStep(domain.OrderStepCommit, time.Now())

	_, err := callWithTimeout(ctx, o.cfg.CallTimeout, func(c context.Context) (struct{}, error) {
		return struct{}{}, o.catalog.CommitReservation(c, reservationID, orderID)
	})
	if err != nil {
		logger.WithError(err).WithField("order_id", orderID).Warn("failed to commit reservation")
	}
}

func (o *Orchestrator) fail(logger *log.Entry, err error) error {
	code := domain.CodeOf(err)
	if o.metrics != nil {
		o.metrics.RecordOrderFailed(string(code))
	}
	entry := logger.WithError(err).WithField("code", code)
	switch code {
	case domain.CodePersistenceFailure, domain.CodeInternal:
		entry.Error("create order failed")
	case domain.CodeCollaboratorUnavailable:
		entry.Warn("create order failed")
	default:
		entry.Info("create order rejected")
	}
	return err
}

func (o *Orchestrator) observeStep(step domain.OrderStep, started time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStepDuration(string(step), time.Since(started))
	}
}

func (o *Orchestrator) appendTimeline(orderID int64, eventType, reason string) {
	if o.timeline == nil {
		return
	}
	if err := o.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: o.now(),
	}); err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordTimelineEvent()
	}
}

func (o *Orchestrator) emit(aggregateType, aggregateID string, eventType kafka.EventType, event *kafka.OrderEvent) {
	if o.outbox == nil {
		return
	}
	event.EventType = eventType
	event.Timestamp = o.now()

	payload, err := json.Marshal(event)
	if err != nil {
		o.logger.WithError(err).Warn("failed to marshal outbox event")
		return
	}
	if _, err := o.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"aggregate_id": aggregateID,
			"event_type":   eventType,
		}).Warn("failed to enqueue outbox event")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

func orderEvent(order domain.Order) *kafka.OrderEvent {
	return &kafka.OrderEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		ProductID:     order.ProductID,
		Quantity:      order.Quantity,
		TotalAmount:   order.TotalAmount.StringFixed(domain.MoneyScale),
		Status:        string(order.Status),
		ReservationID: order.ReservationID,
	}
}

// classify оставляет ожидаемые бизнес-ошибки как есть, всё остальное
// (таймаут, отмена, сбой транспорта) считается недоступностью коллаборатора.
func classify(step domain.OrderStep, err error, expected ...error) error {
	for _, target := range expected {
		if errors.Is(err, target) {
			return err
		}
	}
	if errors.Is(err, domain.ErrCollaboratorUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", step, domain.ErrCollaboratorUnavailable, err)
}

// callWithTimeout ограничивает вызов по времени даже если коллаборатор игнорирует ctx.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}
