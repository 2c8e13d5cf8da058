package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL — срок хранения ответа CreateOrder по ключу идемпотентности.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus — состояние запроса с idempotency-key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — заказ создан, ответ сохранён для повторов.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — создание завершилось ошибкой; повтор получит ту же ошибку.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord — сохранённый результат CreateOrder.
// ResultCode хранит gRPC-код ответа, ResponseBody — тело ответа или описание ошибки.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	ResultCode   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Live сообщает, что запись ещё не истекла к моменту now.
func (r IdempotencyRecord) Live(now time.Time) bool {
	return r.TTLAt.After(now)
}

// IdempotencyExpiry возвращает срок жизни ключа: ttlAt или now+DefaultIdempotencyTTL для нулевого.
func IdempotencyExpiry(now, ttlAt time.Time) time.Time {
	if ttlAt.IsZero() {
		return now.Add(DefaultIdempotencyTTL)
	}
	return ttlAt
}

// NormalizeIdempotencyKey обрезает пробелы и отклоняет пустой ключ.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrIdempotencyKeyRequired
	}
	return key, nil
}

// NormalizeIdempotencyInput проверяет ключ и хеш тела запроса перед регистрацией.
func NormalizeIdempotencyInput(key, requestHash string) (string, string, error) {
	key, err := NormalizeIdempotencyKey(key)
	if err != nil {
		return "", "", err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return "", "", ErrIdempotencyRequestHashRequired
	}
	return key, requestHash, nil
}

// NewIdempotencyClaim нормализует вход и строит запись processing, которую регистрирует хранилище.
func NewIdempotencyClaim(key, requestHash string, now, ttlAt time.Time) (IdempotencyRecord, error) {
	key, requestHash, err := NormalizeIdempotencyInput(key, requestHash)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       IdempotencyExpiry(now, ttlAt),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Conflict объясняет, почему живую запись нельзя занять запросом с хешем requestHash.
func (r IdempotencyRecord) Conflict(requestHash string) error {
	if r.RequestHash != requestHash {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Settle фиксирует итог запроса. Тело копируется.
func (r *IdempotencyRecord) Settle(status IdempotencyStatus, responseBody []byte, resultCode int, at time.Time) {
	r.Status = status
	r.ResponseBody = append([]byte(nil), responseBody...)
	r.ResultCode = resultCode
	r.UpdatedAt = at
}
