package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `id, user_id, user_name, product_id, product_name, quantity,
	unit_price, total_amount, status, COALESCE(reservation_id, ''), created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderStore.
func NewOrderRepository(store *Store) domain.OrderStore {
	return &orderRepository{db: store.DB()}
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.UserID, &order.UserName, &order.ProductID, &order.ProductName, &order.Quantity,
		&order.UnitPrice, &order.TotalAmount, &status, &order.ReservationID, &order.CreatedAt, &order.UpdatedAt,
	)
	order.Status = domain.OrderStatus(status)
	return order, err
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			user_id, user_name, product_id, product_name, quantity,
			unit_price, total_amount, status, reservation_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`,
		order.UserID, order.UserName, order.ProductID, order.ProductName, order.Quantity,
		order.UnitPrice, order.TotalAmount, string(order.Status), nullableString(order.ReservationID),
		order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, fmt.Errorf("reservation %s already belongs to an order: %w", order.ReservationID, err)
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) List(ctx context.Context) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// Cancel блокирует строку заказа и переводит её в CANCELLED.
func (r *orderRepository) Cancel(ctx context.Context, id int64, at time.Time) (domain.Order, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer rollback(tx)

	order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, false, domain.ErrOrderNotFound
		}
		return domain.Order{}, false, fmt.Errorf("select order for cancel: %w", err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, false, nil
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return domain.Order{}, false, domain.ErrInvalidStatusTransition
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, string(domain.OrderStatusCancelled), at); err != nil {
		return domain.Order{}, false, fmt.Errorf("cancel order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, false, fmt.Errorf("commit cancel tx: %w", err)
	}

	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = at
	return order, true, nil
}

func (r *orderRepository) GetByReservation(ctx context.Context, reservationID string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE reservation_id = $1`, reservationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order by reservation: %w", err)
	}
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderStore = (*orderRepository)(nil)
