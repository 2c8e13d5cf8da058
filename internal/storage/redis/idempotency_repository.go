package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// keyIdemOrderCreate — storefront:idem:order:create:{idempotency-key}.
	keyIdemOrderCreate = "storefront:idem:order:create:%s"

	maxUpdateRetries = 3
)

// record — JSON-представление ключа в Redis.
type record struct {
	Key          string    `json:"key"`
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	ResultCode   int       `json:"result_code,omitempty"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func fromDomain(r domain.IdempotencyRecord) record {
	return record{
		Key:          r.Key,
		RequestHash:  r.RequestHash,
		ResponseBody: r.ResponseBody,
		ResultCode:   r.ResultCode,
		Status:       string(r.Status),
		TTLAt:        r.TTLAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (r record) toDomain() (domain.IdempotencyRecord, error) {
	status := domain.IdempotencyStatus(r.Status)
	if !status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", r.Status, r.Key)
	}
	return domain.IdempotencyRecord{
		Key:          r.Key,
		RequestHash:  r.RequestHash,
		ResponseBody: append([]byte(nil), r.ResponseBody...),
		ResultCode:   r.ResultCode,
		Status:       status,
		TTLAt:        r.TTLAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

type idempotencyRepository struct {
	rdb goredis.UniversalClient
	now func() time.Time
}

// NewIdempotencyRepository создаёт реализацию IdempotencyRepository поверх Redis.
// Срок жизни ключа задаётся TTL самого Redis, поэтому DeleteExpired ничего не делает.
func NewIdempotencyRepository(rdb goredis.UniversalClient) domain.IdempotencyRepository {
	return &idempotencyRepository{
		rdb: rdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func redisKey(key string) string {
	return fmt.Sprintf(keyIdemOrderCreate, key)
}

func (r *idempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := r.now()
	created, err := domain.NewIdempotencyClaim(key, requestHash, now, ttlAt)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	key = created.Key

	ttl := created.TTLAt.Sub(now)
	if ttl <= 0 {
		// Уже просроченный ключ не виден никому, хранить его незачем.
		return created, nil
	}

	payload, err := json.Marshal(fromDomain(created))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ok, err := r.rdb.SetNX(ctx, redisKey(key), payload, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
	if ok {
		return created, nil
	}

	existing, getErr := r.Get(key)
	if getErr != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return existing, existing.Conflict(created.RequestHash)
}

func (r *idempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	raw, err := r.rdb.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	return decode(raw)
}

func decode(raw []byte) (domain.IdempotencyRecord, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return rec.toDomain()
}

func (r *idempotencyRepository) MarkDone(key string, responseBody []byte, resultCode int) error {
	return r.markStatus(key, domain.IdempotencyStatusDone, responseBody, resultCode)
}

func (r *idempotencyRepository) MarkFailed(key string, responseBody []byte, resultCode int) error {
	return r.markStatus(key, domain.IdempotencyStatusFailed, responseBody, resultCode)
}

// Release удаляет ключ под WATCH, если запрос с ним ещё не завершён.
func (r *idempotencyRepository) Release(key string) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rk := redisKey(key)
	release := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, rk).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return domain.ErrIdempotencyKeyNotFound
			}
			return fmt.Errorf("get idempotency record: %w", err)
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal idempotency record: %w", err)
		}
		if rec.Status != string(domain.IdempotencyStatusProcessing) {
			return domain.ErrIdempotencyKeyNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, rk)
			return nil
		})
		return err
	}

	for range maxUpdateRetries {
		err = r.rdb.Watch(ctx, release, rk)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			return fmt.Errorf("release idempotency key: %w", err)
		}
		return err
	}
	return fmt.Errorf("release idempotency key: %w", goredis.TxFailedErr)
}

// DeleteExpired — no-op: Redis удаляет ключи по TTL сам.
func (r *idempotencyRepository) DeleteExpired(time.Time, int) (int, error) {
	return 0, nil
}

// markStatus обновляет запись под WATCH, сохраняя оставшийся TTL ключа.
func (r *idempotencyRepository) markStatus(key string, status domain.IdempotencyStatus, responseBody []byte, resultCode int) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rk := redisKey(key)
	update := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, rk).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return domain.ErrIdempotencyKeyNotFound
			}
			return fmt.Errorf("get idempotency record: %w", err)
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal idempotency record: %w", err)
		}

		settled, err := rec.toDomain()
		if err != nil {
			return err
		}
		settled.Settle(status, responseBody, resultCode, r.now())

		payload, err := json.Marshal(fromDomain(settled))
		if err != nil {
			return fmt.Errorf("marshal idempotency record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, rk, payload, goredis.KeepTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err = r.rdb.Watch(ctx, update, rk)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			return fmt.Errorf("mark idempotency key status: %w", err)
		}
		return err
	}
	return fmt.Errorf("mark idempotency key status: %w", goredis.TxFailedErr)
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
