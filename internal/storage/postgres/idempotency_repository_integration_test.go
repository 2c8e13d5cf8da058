package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type idempotencyRepositorySuite struct {
	suite.Suite
	repo domain.IdempotencyRepository
	now  time.Time
}

func TestIdempotencyRepositoryPostgres(t *testing.T) {
	suite.Run(t, new(idempotencyRepositorySuite))
}

func (s *idempotencyRepositorySuite) SetupTest() {
	store := integrationStore(s.T())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := store.DB().ExecContext(ctx, `TRUNCATE TABLE idempotency_keys`)
	s.Require().NoError(err)

	s.repo = NewIdempotencyRepository(store)
	s.now = time.Now().UTC().Truncate(time.Second)
}

func (s *idempotencyRepositorySuite) TestSettledResponseIsReplayed() {
	ttl := s.now.Add(2 * time.Hour)
	created, err := s.repo.CreateProcessing("order-42", "hash-1", ttl)
	s.Require().NoError(err)
	s.Equal(domain.IdempotencyStatusProcessing, created.Status)

	s.Require().NoError(s.repo.MarkDone("order-42", []byte(`{"id":42}`), int(codes.OK)))

	got, err := s.repo.Get("order-42")
	s.Require().NoError(err)
	s.Equal("hash-1", got.RequestHash)
	s.Equal(domain.IdempotencyStatusDone, got.Status)
	s.Equal(int(codes.OK), got.ResultCode)
	s.JSONEq(`{"id":42}`, string(got.ResponseBody))
	s.True(got.TTLAt.Equal(ttl), "ttl: want %s, got %s", ttl, got.TTLAt)
}

func (s *idempotencyRepositorySuite) TestFailedResultKeepsCode() {
	_, err := s.repo.CreateProcessing("order-43", "hash-1", s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.repo.MarkFailed("order-43", []byte(`{"code":"INSUFFICIENT_STOCK"}`), int(codes.FailedPrecondition)))

	got, err := s.repo.Get("order-43")
	s.Require().NoError(err)
	s.Equal(domain.IdempotencyStatusFailed, got.Status)
	s.Equal(int(codes.FailedPrecondition), got.ResultCode)

	s.ErrorIs(s.repo.MarkDone("missing", nil, 0), domain.ErrIdempotencyKeyNotFound)
}

func (s *idempotencyRepositorySuite) TestReleaseDropsOnlyProcessing() {
	ttl := s.now.Add(time.Hour)
	_, err := s.repo.CreateProcessing("order-46", "hash-1", ttl)
	s.Require().NoError(err)
	s.Require().NoError(s.repo.Release("order-46"))

	_, err = s.repo.Get("order-46")
	s.ErrorIs(err, domain.ErrIdempotencyKeyNotFound)

	_, err = s.repo.CreateProcessing("order-46", "hash-1", ttl)
	s.Require().NoError(err)
	s.Require().NoError(s.repo.MarkDone("order-46", []byte(`{"id":46}`), int(codes.OK)))
	s.ErrorIs(s.repo.Release("order-46"), domain.ErrIdempotencyKeyNotFound)
}

func (s *idempotencyRepositorySuite) TestLiveKeyRejectsSecondClaim() {
	ttl := s.now.Add(time.Hour)
	_, err := s.repo.CreateProcessing("order-44", "hash-a", ttl)
	s.Require().NoError(err)

	_, err = s.repo.CreateProcessing("order-44", "hash-a", ttl)
	s.ErrorIs(err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = s.repo.CreateProcessing("order-44", "hash-b", ttl)
	s.ErrorIs(err, domain.ErrIdempotencyHashMismatch)
}

func (s *idempotencyRepositorySuite) TestExpiredKeyIsReclaimed() {
	_, err := s.repo.CreateProcessing("order-45", "old", s.now.Add(-time.Minute))
	s.Require().NoError(err)

	_, err = s.repo.Get("order-45")
	s.ErrorIs(err, domain.ErrIdempotencyKeyNotFound)

	created, err := s.repo.CreateProcessing("order-45", "new", s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal("new", created.RequestHash)

	got, err := s.repo.Get("order-45")
	s.Require().NoError(err)
	s.Equal("new", got.RequestHash)
	s.Empty(got.ResponseBody)
}

func (s *idempotencyRepositorySuite) TestDeleteExpiredHonoursLimit() {
	for i, key := range []string{"exp-1", "exp-2", "exp-3"} {
		_, err := s.repo.CreateProcessing(key, "h", s.now.Add(-time.Duration(5-i)*time.Minute))
		s.Require().NoError(err)
	}
	_, err := s.repo.CreateProcessing("live", "h", s.now.Add(time.Hour))
	s.Require().NoError(err)

	removed, err := s.repo.DeleteExpired(s.now, 2)
	s.Require().NoError(err)
	s.Equal(2, removed)

	removed, err = s.repo.DeleteExpired(s.now, 0)
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, err = s.repo.Get("live")
	s.NoError(err)
}
