package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusCreated — заказ сохранён, сток зарезервирован.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusCancelled — заказ удалён (отменён). Сток при этом не возвращается.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// MoneyScale — количество знаков после запятой для денежных сумм.
const MoneyScale = 2

// CanTransitionTo сообщает, допустим ли переход статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusCreated && next == OrderStatusCancelled
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	return s == OrderStatusCreated || s == OrderStatusCancelled
}

// OrderRequest — входящий запрос на создание заказа.
type OrderRequest struct {
	UserID    int64
	ProductID int64
	Quantity  int64
}

// Validate проверяет, что все поля заданы и положительны.
func (r OrderRequest) Validate() error {
	switch {
	case r.UserID <= 0:
		return fmt.Errorf("%w: user_id must be positive", ErrInvalidRequest)
	case r.ProductID <= 0:
		return fmt.Errorf("%w: product_id must be positive", ErrInvalidRequest)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	return nil
}

// Order — денормализованная запись заказа. Имена пользователя и товара, а также
// цена копируются в момент создания и больше не синхронизируются с источниками.
type Order struct {
	ID            int64
	UserID        int64
	UserName      string
	ProductID     int64
	ProductName   string
	Quantity      int64
	UnitPrice     decimal.Decimal
	TotalAmount   decimal.Decimal
	Status        OrderStatus
	ReservationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder собирает заказ из снимков пользователя и товара.
// ID остаётся нулевым: его назначает хранилище.
func NewOrder(req OrderRequest, user User, product Product, reservationID string, now time.Time) Order {
	return Order{
		UserID:        user.ID,
		UserName:      user.Name,
		ProductID:     product.ID,
		ProductName:   product.Name,
		Quantity:      req.Quantity,
		UnitPrice:     product.Price,
		TotalAmount:   TotalAmount(product.Price, req.Quantity),
		Status:        OrderStatusCreated,
		ReservationID: reservationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TotalAmount считает unitPrice × quantity точно, без округления.
func TotalAmount(unitPrice decimal.Decimal, quantity int64) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(quantity))
}
