package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Money — денежная сумма в JSON: число с двумя знаками после запятой (19.00).
// При разборе принимает и число, и строку.
type Money decimal.Decimal

// NewMoney оборачивает decimal.
func NewMoney(d decimal.Decimal) Money { return Money(d) }

// Decimal возвращает значение как decimal.Decimal.
func (m Money) Decimal() decimal.Decimal { return decimal.Decimal(m) }

// MarshalJSON пишет сумму без кавычек с фиксированной точностью.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(domain.MoneyScale)), nil
}

// UnmarshalJSON разбирает сумму из числа или строки.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*m = Money(d)
	return nil
}

// UserRequest — тело POST и PUT /api/users.
type UserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserPatchRequest — тело PATCH /api/users/{id}; отсутствующие поля не меняются.
type UserPatchRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// UserResponse — пользователь в ответах API.
type UserResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProductRequest — тело POST и PUT /api/products.
type ProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       Money  `json:"price"`
	Stock       int64  `json:"stock"`
}

// ProductResponse — товар в ответах API.
type ProductResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       Money     `json:"price"`
	Stock       int64     `json:"stock"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ReservationRequest — тело POST /api/products/{id}/reservations.
type ReservationRequest struct {
	Quantity int64 `json:"quantity"`
}

// CommitReservationRequest — тело POST /api/reservations/{id}/commit.
type CommitReservationRequest struct {
	OrderID int64 `json:"orderId"`
}

// ReservationResponse — запись журнала резервов.
type ReservationResponse struct {
	ID        string    `json:"id"`
	ProductID int64     `json:"productId"`
	Quantity  int64     `json:"quantity"`
	Status    string    `json:"status"`
	OrderID   int64     `json:"orderId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OrderRequest — тело POST /api/orders.
type OrderRequest struct {
	UserID    int64 `json:"userId"`
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

// OrderResponse — денормализованный заказ.
type OrderResponse struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	UserName      string    `json:"userName"`
	ProductID     int64     `json:"productId"`
	ProductName   string    `json:"productName"`
	Quantity      int64     `json:"quantity"`
	UnitPrice     Money     `json:"unitPrice"`
	TotalAmount   Money     `json:"totalAmount"`
	Status        string    `json:"status"`
	ReservationID string    `json:"reservationId,omitempty"`
	OrderDate     time.Time `json:"orderDate"`
}

// ErrorResponse — тело любой ошибки API.
type ErrorResponse struct {
	Message       string `json:"message"`
	Status        int    `json:"status"`
	Code          string `json:"code"`
	ReservationID string `json:"reservationId,omitempty"`
}

func newUserResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// User переводит ответ API обратно в доменную запись.
func (r UserResponse) User() domain.User {
	return domain.User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func newProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       Money(p.Price),
		Stock:       p.Stock,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// Product переводит ответ API обратно в доменную запись.
func (r ProductResponse) Product() domain.Product {
	return domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price.Decimal(),
		Stock:       r.Stock,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (r ProductRequest) product() domain.Product {
	return domain.Product{
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price.Decimal(),
		Stock:       r.Stock,
	}
}

func newReservationResponse(r domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:        r.ID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		Status:    string(r.Status),
		OrderID:   r.OrderID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Reservation переводит ответ API обратно в доменную запись.
func (r ReservationResponse) Reservation() domain.Reservation {
	return domain.Reservation{
		ID:        r.ID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		Status:    domain.ReservationStatus(r.Status),
		OrderID:   r.OrderID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// NewOrderResponse собирает ответ по заказу.
func NewOrderResponse(o domain.Order) OrderResponse {
	return OrderResponse{
		ID:            o.ID,
		UserID:        o.UserID,
		UserName:      o.UserName,
		ProductID:     o.ProductID,
		ProductName:   o.ProductName,
		Quantity:      o.Quantity,
		UnitPrice:     Money(o.UnitPrice),
		TotalAmount:   Money(o.TotalAmount),
		Status:        string(o.Status),
		ReservationID: o.ReservationID,
		OrderDate:     o.CreatedAt,
	}
}
