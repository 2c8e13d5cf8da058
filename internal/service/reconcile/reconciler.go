package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultInterval    = 1 * time.Minute
	defaultGracePeriod = 5 * time.Minute
	defaultBatchSize   = 200

	aggregateReservation = "reservation"
)

var (
	reconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_reconcile_runs_total",
		Help: "Total number of reservation reconcile runs grouped by result.",
	}, []string{"result"})
	reconcileReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_reconcile_reservations_total",
		Help: "Reservations processed by reconcile grouped by outcome.",
	}, []string{"outcome"})
	reconcileOrphanedPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_reconcile_orphaned_reservations",
		Help: "Orphaned reservations seen during the last reconcile run.",
	})
)

// Options задаёт параметры Reconciler.
type Options struct {
	Logger      *log.Entry
	Interval    time.Duration
	GracePeriod time.Duration
	BatchSize   int
	AutoRelease bool
	Outbox      domain.OutboxRepository
	Clock       func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

func WithInterval(interval time.Duration) Option {
	return func(opts *Options) { opts.Interval = interval }
}

// WithGracePeriod задаёт возраст резерва, после которого он попадает в сверку.
// Более свежие резервы могут принадлежать заказу, который ещё создаётся.
func WithGracePeriod(grace time.Duration) Option {
	return func(opts *Options) { opts.GracePeriod = grace }
}

func WithBatchSize(batchSize int) Option {
	return func(opts *Options) { opts.BatchSize = batchSize }
}

// WithAutoRelease разрешает возвращать сток по осиротевшим резервам.
// По умолчанию резервы только репортятся.
func WithAutoRelease(enabled bool) Option {
	return func(opts *Options) { opts.AutoRelease = enabled }
}

// WithOutbox включает события reservation.orphaned и reservation.released.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(opts *Options) { opts.Outbox = repo }
}

func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Clock = now }
}

// Report — итог одного прохода сверки.
type Report struct {
	Scanned   int
	Committed int
	Orphaned  int
	Released  int
	Errors    int
}

// Reconciler сверяет журнал резервов с заказами. Резерв без заказа
// появляется, когда сохранение заказа упало или оборвалось по таймауту
// уже после списания стока.
type Reconciler struct {
	ledger      domain.ReservationLedger
	orders      domain.OrderStore
	outbox      domain.OutboxRepository
	logger      *log.Entry
	now         func() time.Time
	interval    time.Duration
	gracePeriod time.Duration
	batchSize   int
	autoRelease bool

	mu       sync.Mutex
	reported map[string]struct{}
}

// NewReconciler создаёт воркер сверки резервов.
func NewReconciler(ledger domain.ReservationLedger, orders domain.OrderStore, options ...Option) *Reconciler {
	opts := Options{
		Interval:    defaultInterval,
		GracePeriod: defaultGracePeriod,
		BatchSize:   defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-reconciler")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Reconciler{
		ledger:      ledger,
		orders:      orders,
		outbox:      opts.Outbox,
		logger:      logger,
		now:         opts.Clock,
		interval:    opts.Interval,
		gracePeriod: opts.GracePeriod,
		batchSize:   opts.BatchSize,
		autoRelease: opts.AutoRelease,
		reported:    make(map[string]struct{}),
	}
}

// Run запускает периодическую сверку до отмены ctx.
func (r *Reconciler) Run(ctx context.Context) {
	if r.ledger == nil || r.orders == nil {
		r.logger.Warn("reservation reconciler is disabled: ledger or order store is nil")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	report, err := r.SweepOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.WithError(err).Warn("reservation reconcile failed")
		}
		return
	}
	if report.Scanned > 0 {
		r.logger.WithFields(log.Fields{
			"scanned":   report.Scanned,
			"committed": report.Committed,
			"orphaned":  report.Orphaned,
			"released":  report.Released,
			"errors":    report.Errors,
		}).Info("reservation reconcile finished")
	}
}

// SweepOnce проверяет резервы в статусе reserved старше grace period.
// Резерв с найденным заказом коммитится, без заказа считается осиротевшим.
func (r *Reconciler) SweepOnce(ctx context.Context) (Report, error) {
	var report Report

	reservations, err := r.ledger.ListReservations(ctx, domain.ReservationFilter{
		Status:        domain.ReservationStatusReserved,
		CreatedBefore: r.now().Add(-r.gracePeriod),
		Limit:         r.batchSize,
	})
	if err != nil {
		reconcileRunsTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("list reservations: %w", err)
	}

	for _, res := range reservations {
		if err := ctx.Err(); err != nil {
			reconcileRunsTotal.WithLabelValues("cancelled").Inc()
			return report, err
		}
		report.Scanned++

		outcome, err := r.reconcile(ctx, res)
		if err != nil {
			report.Errors++
			reconcileReservationsTotal.WithLabelValues("error").Inc()
			r.logger.WithError(err).WithField("reservation_id", res.ID).Warn("failed to reconcile reservation")
			continue
		}
		reconcileReservationsTotal.WithLabelValues(outcome).Inc()
		switch outcome {
		case "committed":
			report.Committed++
		case "orphaned":
			report.Orphaned++
		case "released":
			report.Orphaned++
			report.Released++
		}
	}

	reconcileOrphanedPending.Set(float64(report.Orphaned - report.Released))
	reconcileRunsTotal.WithLabelValues("success").Inc()
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, res domain.Reservation) (string, error) {
	order, err := r.orders.GetByReservation(ctx, res.ID)
	switch {
	case err == nil:
		if err := r.ledger.CommitReservation(ctx, res.ID, order.ID); err != nil {
			return "", fmt.Errorf("commit reservation: %w", err)
		}
		r.forget(res.ID)
		r.logger.WithFields(log.Fields{
			"reservation_id": res.ID,
			"order_id":       order.ID,
		}).Info("reservation committed by reconcile")
		return "committed", nil
	case !errors.Is(err, domain.ErrOrderNotFound):
		return "", fmt.Errorf("find order by reservation: %w", err)
	}

	logger := r.logger.WithFields(log.Fields{
		"reservation_id": res.ID,
		"product_id":     res.ProductID,
		"qty":            res.Quantity,
		"age":            r.now().Sub(res.CreatedAt).String(),
	})

	if r.markReported(res.ID) {
		logger.Warn("orphaned reservation found")
		r.emit(kafka.EventTypeReservationOrphaned, res, "no order references reservation")
	}

	if !r.autoRelease {
		return "orphaned", nil
	}

	released, err := r.ledger.ReleaseReservation(ctx, res.ID)
	if err != nil {
		return "", fmt.Errorf("release reservation: %w", err)
	}
	r.forget(res.ID)
	logger.Info("orphaned reservation released, stock restored")
	r.emit(kafka.EventTypeReservationReleased, released, "orphaned")
	return "released", nil
}

// markReported возвращает true, если резерв репортится впервые.
func (r *Reconciler) markReported(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reported[id]; ok {
		return false
	}
	r.reported[id] = struct{}{}
	return true
}

func (r *Reconciler) forget(id string) {
	r.mu.Lock()
	delete(r.reported, id)
	r.mu.Unlock()
}

func (r *Reconciler) emit(eventType kafka.EventType, res domain.Reservation, reason string) {
	if r.outbox == nil {
		return
	}
	payload, err := json.Marshal(&kafka.OrderEvent{
		EventType:     eventType,
		OrderID:       res.OrderID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		Status:        string(res.Status),
		ReservationID: res.ID,
		Reason:        reason,
		Timestamp:     r.now(),
	})
	if err != nil {
		r.logger.WithError(err).Warn("failed to marshal reconcile event")
		return
	}
	if _, err := r.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: aggregateReservation,
		AggregateID:   res.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		r.logger.WithError(err).WithField("reservation_id", res.ID).Warn("failed to enqueue reconcile event")
	}
}
