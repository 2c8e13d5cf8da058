package domain

import "context"

// UserRepository описывает хранилище справочника пользователей.
type UserRepository interface {
	// Create назначает ID и сохраняет пользователя.
	Create(ctx context.Context, user User) (User, error)
	// Get возвращает пользователя или ErrUserNotFound.
	Get(ctx context.Context, id int64) (User, error)
	List(ctx context.Context) ([]User, error)
	// Update перезаписывает пользователя целиком.
	Update(ctx context.Context, user User) (User, error)
	Delete(ctx context.Context, id int64) error
}

// ProductRepository описывает хранилище каталога вместе с журналом резервов.
type ProductRepository interface {
	Create(ctx context.Context, product Product) (Product, error)
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context) ([]Product, error)
	Update(ctx context.Context, product Product) (Product, error)
	Delete(ctx context.Context, id int64) error

	// Reserve — атомарное условное списание: сток уменьшается только если его хватает.
	Reserve(ctx context.Context, reservation Reservation) (Reservation, error)
	CommitReservation(ctx context.Context, reservationID string, orderID int64) error
	ReleaseReservation(ctx context.Context, reservationID string) (Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
}
