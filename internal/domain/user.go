package domain

import (
	"strings"
	"time"
)

// User — запись справочника пользователей.
type User struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет обязательные поля пользователя.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return ErrUserNameRequired
	}
	if strings.TrimSpace(u.Email) == "" {
		return ErrUserEmailRequired
	}
	return nil
}

// UserPatch — частичное обновление: пустые поля не трогаем.
type UserPatch struct {
	Name  *string
	Email *string
}

// Apply применяет непустые поля патча к пользователю.
func (p UserPatch) Apply(u User) User {
	if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
		u.Name = *p.Name
	}
	if p.Email != nil && strings.TrimSpace(*p.Email) != "" {
		u.Email = *p.Email
	}
	return u
}
