package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `id, name, description, price, stock, created_at, updated_at`

const reservationColumns = `id, product_id, quantity, status, COALESCE(order_id, 0), created_at, updated_at`

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository
// вместе с журналом резервов.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	err := row.Scan(&res.ID, &res.ProductID, &res.Quantity, &status, &res.OrderID, &res.CreatedAt, &res.UpdatedAt)
	res.Status = domain.ReservationStatus(status)
	return res, err
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := r.db.QueryRowContext(ctx, `
		INSERT INTO products (name, description, price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`,
		product.Name, product.Description, product.Price, product.Stock, product.CreatedAt, product.UpdatedAt,
	).Scan(&product.ID); err != nil {
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (r *productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *productRepository) List(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

func (r *productRepository) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	product.UpdatedAt = time.Now().UTC()
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2,
		    description = $3,
		    price = $4,
		    stock = $5,
		    updated_at = $6
		WHERE id = $1
		RETURNING created_at
	`,
		product.ID, product.Name, product.Description, product.Price, product.Stock, product.UpdatedAt,
	).Scan(&product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("update product: %w", err)
	}
	return product, nil
}

func (r *productRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for product delete: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// Reserve списывает сток условным UPDATE и пишет резерв в той же транзакции.
// Если стока не хватает, UPDATE не затрагивает строк и ничего не меняется.
func (r *productRepository) Reserve(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	if res.Quantity <= 0 {
		return domain.Reservation{}, domain.ErrReservationQtyInvalid
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer rollback(tx)

	now := time.Now().UTC()
	var productID int64
	err = tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    updated_at = $3
		WHERE id = $1
		  AND stock >= $2
		RETURNING id
	`, res.ProductID, res.Quantity, now).Scan(&productID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, fmt.Errorf("decrement stock: %w", err)
		}
		exists, existsErr := rowExists(ctx, tx, `SELECT 1 FROM products WHERE id = $1`, res.ProductID)
		if existsErr != nil {
			return domain.Reservation{}, existsErr
		}
		if !exists {
			return domain.Reservation{}, domain.ErrProductNotFound
		}
		return domain.Reservation{}, domain.ErrInsufficientStock
	}

	res.Status = domain.ReservationStatusReserved
	res.CreatedAt = now
	res.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_reservations (id, product_id, quantity, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, res.ID, res.ProductID, res.Quantity, string(res.Status), res.CreatedAt, res.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Reservation{}, fmt.Errorf("reservation %s: %w", res.ID, domain.ErrReservationState)
		}
		return domain.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Reservation{}, fmt.Errorf("commit reserve tx: %w", err)
	}
	return res, nil
}

func (r *productRepository) CommitReservation(ctx context.Context, reservationID string, orderID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE stock_reservations
		SET status = $2,
		    order_id = $3,
		    updated_at = $4
		WHERE id = $1
		  AND status = $5
	`,
		reservationID,
		string(domain.ReservationStatusCommitted),
		orderID,
		time.Now().UTC(),
		string(domain.ReservationStatusReserved),
	)
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for reservation commit: %w", err)
	}
	if affected == 1 {
		return nil
	}

	current, err := r.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if current.Status == domain.ReservationStatusCommitted && current.OrderID == orderID {
		return nil
	}
	return domain.ErrReservationState
}

// ReleaseReservation переводит резерв в released и возвращает сток в одной транзакции.
func (r *productRepository) ReleaseReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("begin release tx: %w", err)
	}
	defer rollback(tx)

	now := time.Now().UTC()
	released, err := scanReservation(tx.QueryRowContext(ctx, `
		UPDATE stock_reservations
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = $4
		RETURNING `+reservationColumns,
		reservationID,
		string(domain.ReservationStatusReleased),
		now,
		string(domain.ReservationStatusReserved),
	))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, fmt.Errorf("mark reservation released: %w", err)
		}
		current, getErr := scanReservation(tx.QueryRowContext(ctx,
			`SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1`, reservationID))
		if getErr != nil {
			if errors.Is(getErr, sql.ErrNoRows) {
				return domain.Reservation{}, domain.ErrReservationNotFound
			}
			return domain.Reservation{}, fmt.Errorf("select reservation: %w", getErr)
		}
		return current, domain.ErrReservationState
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    updated_at = $3
		WHERE id = $1
	`, released.ProductID, released.Quantity, now); err != nil {
		return domain.Reservation{}, fmt.Errorf("restore stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Reservation{}, fmt.Errorf("commit release tx: %w", err)
	}
	return released, nil
}

func (r *productRepository) GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := scanReservation(r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1`, reservationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("select reservation: %w", err)
	}
	return res, nil
}

func (r *productRepository) ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.CreatedBefore.IsZero() {
		args = append(args, filter.CreatedBefore)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT ` + reservationColumns + ` FROM stock_reservations`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation rows: %w", err)
	}
	return result, nil
}

func rowExists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check row exists: %w", err)
}

var _ domain.ProductRepository = (*productRepository)(nil)
