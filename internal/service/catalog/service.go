package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service — каталог товаров: CRUD и владение стоком.
type Service struct {
	repo   domain.ProductRepository
	logger *log.Entry
	newID  func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger каталога.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов резервов.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService создаёт каталог поверх репозитория товаров.
func NewService(repo domain.ProductRepository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: log.WithField("component", "catalog"),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create валидирует и сохраняет новый товар.
func (s *Service) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	product.ID = 0
	return s.repo.Create(ctx, product)
}

// Get возвращает товар по ID.
func (s *Service) Get(ctx context.Context, id int64) (domain.Product, error) {
	return s.repo.Get(ctx, id)
}

// List возвращает все товары каталога.
func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	return s.repo.List(ctx)
}

// Update полностью заменяет поля товара (имя, описание, цена, сток).
func (s *Service) Update(ctx context.Context, id int64, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	product.ID = id
	return s.repo.Update(ctx, product)
}

// Delete удаляет товар. Уже оформленные заказы хранят снимок и не затрагиваются.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Lookup реализует domain.ProductCatalog.
func (s *Service) Lookup(ctx context.Context, id int64) (domain.Product, error) {
	return s.repo.Get(ctx, id)
}

// ReserveStock атомарно списывает qty единиц товара.
func (s *Service) ReserveStock(ctx context.Context, productID, qty int64) (domain.Reservation, error) {
	if qty <= 0 {
		return domain.Reservation{}, domain.ErrReservationQtyInvalid
	}

	res, err := s.repo.Reserve(ctx, domain.Reservation{
		ID:        s.newID(),
		ProductID: productID,
		Quantity:  qty,
	})
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("reserve %d of product %d: %w", qty, productID, err)
	}

	s.logger.WithFields(log.Fields{
		"product_id":     productID,
		"reservation_id": res.ID,
		"qty":            qty,
	}).Debug("stock reserved")
	return res, nil
}

// CommitReservation закрывает резерв под сохранённый заказ.
func (s *Service) CommitReservation(ctx context.Context, reservationID string, orderID int64) error {
	return s.repo.CommitReservation(ctx, reservationID, orderID)
}

// ReleaseReservation возвращает сток по резерву.
func (s *Service) ReleaseReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	res, err := s.repo.ReleaseReservation(ctx, reservationID)
	if err != nil {
		return res, err
	}
	s.logger.WithFields(log.Fields{
		"product_id":     res.ProductID,
		"reservation_id": res.ID,
		"qty":            res.Quantity,
	}).Info("reservation released, stock restored")
	return res, nil
}

// GetReservation возвращает запись журнала резервов.
func (s *Service) GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	return s.repo.GetReservation(ctx, reservationID)
}

// ListReservations отдаёт журнал резервов по фильтру.
func (s *Service) ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	return s.repo.ListReservations(ctx, filter)
}

var (
	_ domain.ProductCatalog    = (*Service)(nil)
	_ domain.ReservationLedger = (*Service)(nil)
)
