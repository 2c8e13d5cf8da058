package domain

import "time"

// ReservationStatus отражает состояние записи в журнале резервов.
type ReservationStatus string

const (
	// ReservationStatusReserved — сток списан, заказ ещё не подтверждён.
	ReservationStatusReserved ReservationStatus = "reserved"
	// ReservationStatusCommitted — заказ сохранён, резерв закрыт.
	ReservationStatusCommitted ReservationStatus = "committed"
	// ReservationStatusReleased — сток возвращён (ручная компенсация).
	ReservationStatusReleased ReservationStatus = "released"
)

// Reservation — запись о списании стока под будущий заказ.
type Reservation struct {
	ID        string
	ProductID int64
	Quantity  int64
	Status    ReservationStatus
	// OrderID заполняется при коммите.
	OrderID   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReservationFilter ограничивает выборку резервов.
type ReservationFilter struct {
	Status        ReservationStatus
	CreatedBefore time.Time
	Limit         int
}

// Matches проверяет резерв на соответствие фильтру (без учёта Limit).
func (f ReservationFilter) Matches(r Reservation) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.CreatedBefore.IsZero() && !r.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}
