package directory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service — справочник пользователей.
type Service struct {
	repo domain.UserRepository
}

// NewService создаёт справочник поверх репозитория.
func NewService(repo domain.UserRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if err := user.Validate(); err != nil {
		return domain.User{}, err
	}
	user.ID = 0
	return s.repo.Create(ctx, user)
}

func (s *Service) Get(ctx context.Context, id int64) (domain.User, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domain.User, error) {
	return s.repo.List(ctx)
}

// Replace перезаписывает имя и email (PUT).
func (s *Service) Replace(ctx context.Context, id int64, user domain.User) (domain.User, error) {
	if err := user.Validate(); err != nil {
		return domain.User{}, err
	}
	user.ID = id
	return s.repo.Update(ctx, user)
}

// Patch меняет только переданные непустые поля (PATCH).
func (s *Service) Patch(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return s.repo.Update(ctx, patch.Apply(current))
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Lookup реализует domain.UserDirectory.
func (s *Service) Lookup(ctx context.Context, id int64) (domain.User, error) {
	return s.repo.Get(ctx, id)
}

var _ domain.UserDirectory = (*Service)(nil)
