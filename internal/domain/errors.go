package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest — запрос на заказ не прошёл валидацию (id или количество <= 0).
	ErrInvalidRequest = errors.New("invalid order request")
	// ErrUserNotFound — пользователь не найден в справочнике.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound — товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCollaboratorUnavailable — справочник или каталог не ответил вовремя.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrPersistenceFailure — резерв выполнен, но заказ сохранить не удалось.
	ErrPersistenceFailure = errors.New("order persistence failed")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrReservationNotFound — резерв с таким идентификатором отсутствует.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrReservationState — резерв уже закоммичен или снят.
	ErrReservationState = errors.New("reservation is not in reserved state")
	// ErrInvalidStatusTransition — недопустимый переход статуса заказа.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")

	// Ошибки валидации справочных сущностей.
	ErrUserNameRequired      = errors.New("user name is required")
	ErrUserEmailRequired     = errors.New("user email is required")
	ErrProductNameRequired   = errors.New("product name is required")
	ErrProductPriceNegative  = errors.New("product price must be non-negative")
	ErrProductPriceScale     = errors.New("product price must have at most 2 fraction digits")
	ErrProductStockNegative  = errors.New("product stock must be non-negative")
	ErrReservationQtyInvalid = errors.New("reservation quantity must be greater than zero")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не передан хеш тела запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyKeyNotFound — ключ отсутствует или истёк.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorCode — стабильный машиночитаемый код ошибки для транспортов и метрик.
type ErrorCode string

const (
	CodeInvalidRequest          ErrorCode = "INVALID_REQUEST"
	CodeUserNotFound            ErrorCode = "USER_NOT_FOUND"
	CodeProductNotFound         ErrorCode = "PRODUCT_NOT_FOUND"
	CodeInsufficientStock       ErrorCode = "INSUFFICIENT_STOCK"
	CodeCollaboratorUnavailable ErrorCode = "COLLABORATOR_UNAVAILABLE"
	CodePersistenceFailure      ErrorCode = "PERSISTENCE_FAILURE"
	CodeOrderNotFound           ErrorCode = "ORDER_NOT_FOUND"
	CodeReservationNotFound     ErrorCode = "RESERVATION_NOT_FOUND"
	CodeConflict                ErrorCode = "CONFLICT"
	CodeInternal                ErrorCode = "INTERNAL"
)

// PersistenceError несёт данные резерва, который остался без заказа.
// По ReservationID оператор или reconcile-воркер находит «висящий» резерв.
type PersistenceError struct {
	ReservationID string
	ProductID     int64
	Quantity      int64
	Err           error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: reservation %s (product %d, qty %d): %v",
		ErrPersistenceFailure, e.ReservationID, e.ProductID, e.Quantity, e.Err)
}

// Unwrap отдаёт причину сбоя хранилища.
func (e *PersistenceError) Unwrap() error { return e.Err }

// Is позволяет проверять ошибку через errors.Is(err, ErrPersistenceFailure).
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailure
}

// CodeOf классифицирует ошибку. nil даёт пустой код.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPersistenceFailure):
		return CodePersistenceFailure
	case errors.Is(err, ErrCollaboratorUnavailable):
		return CodeCollaboratorUnavailable
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrUserNameRequired),
		errors.Is(err, ErrUserEmailRequired),
		errors.Is(err, ErrProductNameRequired),
		errors.Is(err, ErrProductPriceNegative),
		errors.Is(err, ErrProductPriceScale),
		errors.Is(err, ErrProductStockNegative),
		errors.Is(err, ErrReservationQtyInvalid):
		return CodeInvalidRequest
	case errors.Is(err, ErrProductNotFound):
		return CodeProductNotFound
	case errors.Is(err, ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, ErrOrderNotFound):
		return CodeOrderNotFound
	case errors.Is(err, ErrReservationNotFound):
		return CodeReservationNotFound
	case errors.Is(err, ErrReservationState),
		errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrIdempotencyKeyAlreadyExists),
		errors.Is(err, ErrIdempotencyHashMismatch):
		return CodeConflict
	default:
		return CodeInternal
	}
}
