package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	IdempotencyDriverMemory   = "memory"
	IdempotencyDriverPostgres = "postgres"
	IdempotencyDriverRedis    = "redis"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Переменные окружения.
const (
	envConfigFile = "OMS_CONFIG_FILE"
	envEnvFile    = "OMS_ENV_FILE"

	envGRPCAddr                    = "OMS_GRPC_ADDR"
	envHTTPAddr                    = "OMS_HTTP_ADDR"
	envMetricsAddr                 = "OMS_METRICS_ADDR"
	envStorageDriver               = "OMS_STORAGE_DRIVER"
	envPostgresDSN                 = "OMS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "OMS_POSTGRES_AUTO_MIGRATE"
	envIdempotencyDriver           = "OMS_IDEMPOTENCY_DRIVER"
	envRedisAddr                   = "OMS_REDIS_ADDR"
	envKafkaBrokers                = "OMS_KAFKA_BROKERS"
	envKafkaTopic                  = "OMS_KAFKA_TOPIC"
	envUsersServiceURL             = "OMS_USERS_SERVICE_URL"
	envProductsServiceURL          = "OMS_PRODUCTS_SERVICE_URL"
	envCallTimeout                 = "OMS_CALL_TIMEOUT"
	envRequestTimeout              = "OMS_REQUEST_TIMEOUT"
	envLookupRetryAttempts         = "OMS_LOOKUP_RETRY_ATTEMPTS"
	envLookupRetryDelay            = "OMS_LOOKUP_RETRY_DELAY"
	envLookupRetryMaxDelay         = "OMS_LOOKUP_RETRY_MAX_DELAY"
	envBreakerMaxFailures          = "OMS_BREAKER_MAX_FAILURES"
	envBreakerResetTimeout         = "OMS_BREAKER_RESET_TIMEOUT"
	envOutboxPollInterval          = "OMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "OMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "OMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "OMS_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "OMS_OUTBOX_MAX_PENDING"
	envOutboxMaxAge                = "OMS_OUTBOX_MAX_AGE"
	envIdempotencyCleanupInterval  = "OMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envReconcileEnabled            = "OMS_RECONCILE_ENABLED"
	envReconcileInterval           = "OMS_RECONCILE_INTERVAL"
	envReconcileGracePeriod        = "OMS_RECONCILE_GRACE_PERIOD"
	envReconcileBatchSize          = "OMS_RECONCILE_BATCH_SIZE"
	envReconcileAutoRelease        = "OMS_RECONCILE_AUTO_RELEASE"
	envShutdownTimeout             = "OMS_SHUTDOWN_TIMEOUT"
	envLogLevel                    = "OMS_LOG_LEVEL"
	envLogFormat                   = "OMS_LOG_FORMAT"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`
	// IdempotencyDriver пустой означает то же хранилище, что и StorageDriver.
	IdempotencyDriver string `yaml:"idempotency_driver"`
	RedisAddr         string `yaml:"redis_addr"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	// Пустой URL означает локальный справочник или каталог этого же процесса.
	UsersServiceURL    string `yaml:"users_service_url"`
	ProductsServiceURL string `yaml:"products_service_url"`

	CallTimeout                 time.Duration `yaml:"call_timeout"`
	RequestTimeout              time.Duration `yaml:"request_timeout"`
	LookupRetryAttempts         int           `yaml:"lookup_retry_attempts"`
	LookupRetryDelay            time.Duration `yaml:"lookup_retry_delay"`
	LookupRetryMaxDelay         time.Duration `yaml:"lookup_retry_max_delay"`
	BreakerMaxFailures          int           `yaml:"breaker_max_failures"`
	BreakerResetTimeout         time.Duration `yaml:"breaker_reset_timeout"`
	ShutdownTimeout             time.Duration `yaml:"shutdown_timeout"`
	OutboxPollInterval          time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize             int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts           int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay            time.Duration `yaml:"outbox_retry_delay"`
	OutboxMaxPending            int           `yaml:"outbox_max_pending"`
	OutboxMaxAge                time.Duration `yaml:"outbox_max_age"`
	IdempotencyCleanupInterval  time.Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `yaml:"idempotency_cleanup_batch_size"`

	ReconcileEnabled     bool          `yaml:"reconcile_enabled"`
	ReconcileInterval    time.Duration `yaml:"reconcile_interval"`
	ReconcileGracePeriod time.Duration `yaml:"reconcile_grace_period"`
	ReconcileBatchSize   int           `yaml:"reconcile_batch_size"`
	ReconcileAutoRelease bool          `yaml:"reconcile_auto_release"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig возвращает конфигурацию для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaTopic:                  "storefront.order.events",
		CallTimeout:                 2 * time.Second,
		RequestTimeout:              15 * time.Second,
		LookupRetryAttempts:         2,
		LookupRetryDelay:            50 * time.Millisecond,
		LookupRetryMaxDelay:         time.Second,
		BreakerMaxFailures:          5,
		BreakerResetTimeout:         30 * time.Second,
		ShutdownTimeout:             5 * time.Second,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            1000,
		OutboxMaxAge:                5 * time.Minute,
		IdempotencyCleanupInterval:  time.Hour,
		IdempotencyCleanupBatchSize: 500,
		ReconcileEnabled:            true,
		ReconcileInterval:           time.Minute,
		ReconcileGracePeriod:        5 * time.Minute,
		ReconcileBatchSize:          100,
		LogLevel:                    "info",
		LogFormat:                   LogFormatText,
	}
}

// effectiveIdempotencyDriver возвращает драйвер хранилища ключей идемпотентности.
func (c Config) effectiveIdempotencyDriver() string {
	if c.IdempotencyDriver == "" {
		return c.StorageDriver
	}
	return c.IdempotencyDriver
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.effectiveIdempotencyDriver() {
	case IdempotencyDriverMemory:
	case IdempotencyDriverPostgres:
		if c.PostgresDSN == "" && c.StorageDriver != StorageDriverPostgres {
			errs = append(errs, errors.New("postgres dsn is required for postgres idempotency driver"))
		}
	case IdempotencyDriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for redis idempotency driver"))
		}
	default:
		if c.IdempotencyDriver != "" {
			errs = append(errs, fmt.Errorf("unsupported idempotency driver %q", c.IdempotencyDriver))
		}
	}

	for name, value := range map[string]string{
		envUsersServiceURL:    c.UsersServiceURL,
		envProductsServiceURL: c.ProductsServiceURL,
	} {
		if value == "" {
			continue
		}
		if u, err := url.Parse(value); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: invalid url %q", name, value))
		}
	}

	for name, value := range map[string]time.Duration{
		"call timeout":          c.CallTimeout,
		"request timeout":       c.RequestTimeout,
		"breaker reset timeout": c.BreakerResetTimeout,
		"shutdown timeout":      c.ShutdownTimeout,
	} {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %s", name, value))
		}
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON {
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

type envLookup func(string) (string, bool)

// LoadConfig собирает конфигурацию: значения по умолчанию, YAML-файл из
// OMS_CONFIG_FILE, .env-файл и переменные OMS_*. Реальное окружение
// приоритетнее .env. Возвращает предупреждения о некорректных значениях,
// которые были проигнорированы.
func LoadConfig() (Config, []string, error) {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup envLookup) (Config, []string, error) {
	cfg := DefaultConfig()

	envFile := ".env"
	if v, ok := lookup(envEnvFile); ok && strings.TrimSpace(v) != "" {
		envFile = strings.TrimSpace(v)
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, nil, fmt.Errorf("read env file %s: %w", envFile, err)
	}
	lookup = withFallback(lookup, dotenv)

	if path, ok := lookup(envConfigFile); ok && strings.TrimSpace(path) != "" {
		if err := cfg.loadYAML(strings.TrimSpace(path)); err != nil {
			return cfg, nil, err
		}
	}

	cfg, warnings := readConfigFromEnv(cfg, lookup)
	return cfg, warnings, cfg.Validate()
}

func withFallback(primary envLookup, fallback map[string]string) envLookup {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

// loadYAML накладывает значения из файла поверх c. Неизвестные ключи считаются ошибкой.
func (c *Config) loadYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

// readConfigFromEnv накладывает переменные окружения поверх base.
// Некорректное значение не применяется и попадает в предупреждения.
func readConfigFromEnv(base Config, lookup envLookup) (Config, []string) {
	cfg := base
	r := envReader{lookup: lookup}

	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.str(envHTTPAddr, &cfg.HTTPAddr)
	r.str(envMetricsAddr, &cfg.MetricsAddr)
	r.lower(envStorageDriver, &cfg.StorageDriver)
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	r.lower(envIdempotencyDriver, &cfg.IdempotencyDriver)
	r.str(envRedisAddr, &cfg.RedisAddr)
	r.list(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envKafkaTopic, &cfg.KafkaTopic)
	r.str(envUsersServiceURL, &cfg.UsersServiceURL)
	r.str(envProductsServiceURL, &cfg.ProductsServiceURL)

	r.duration(envCallTimeout, &cfg.CallTimeout, positiveDuration, "must be > 0")
	r.duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")
	r.integer(envLookupRetryAttempts, &cfg.LookupRetryAttempts, positiveInt, "must be > 0")
	r.duration(envLookupRetryDelay, &cfg.LookupRetryDelay, nonNegativeDuration, "must be >= 0")
	r.duration(envLookupRetryMaxDelay, &cfg.LookupRetryMaxDelay, nonNegativeDuration, "must be >= 0")
	r.integer(envBreakerMaxFailures, &cfg.BreakerMaxFailures, positiveInt, "must be > 0")
	r.duration(envBreakerResetTimeout, &cfg.BreakerResetTimeout, positiveDuration, "must be > 0")
	r.duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	r.duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	r.integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	r.integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	r.duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	r.integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegativeInt, "must be >= 0")
	r.duration(envOutboxMaxAge, &cfg.OutboxMaxAge, nonNegativeDuration, "must be >= 0")
	r.duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	r.integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	r.boolean(envReconcileEnabled, &cfg.ReconcileEnabled)
	r.duration(envReconcileInterval, &cfg.ReconcileInterval, positiveDuration, "must be > 0")
	r.duration(envReconcileGracePeriod, &cfg.ReconcileGracePeriod, nonNegativeDuration, "must be >= 0")
	r.integer(envReconcileBatchSize, &cfg.ReconcileBatchSize, positiveInt, "must be > 0")
	r.boolean(envReconcileAutoRelease, &cfg.ReconcileAutoRelease)

	r.lower(envLogLevel, &cfg.LogLevel)
	r.lower(envLogFormat, &cfg.LogFormat)

	return cfg, r.warnings
}

func positiveInt(v int) bool                   { return v > 0 }
func nonNegativeInt(v int) bool                { return v >= 0 }
func positiveDuration(v time.Duration) bool    { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

type envReader struct {
	lookup   envLookup
	warnings []string
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) warn(key, raw string, err error) {
	r.warnings = append(r.warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) lower(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = strings.ToLower(v)
	}
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := parseBool(v)
	if err != nil {
		r.warn(key, v, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int, valid func(int) bool, rule string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := parseInt(v, valid, rule)
	if err != nil {
		r.warn(key, v, err)
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := parseDuration(v, valid, rule)
	if err != nil {
		r.warn(key, v, err)
		return
	}
	*dst = parsed
}

// parseBool понимает true/false, 1/0, yes/no, on/off.
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("value %d %s", v, rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("value %s %s", v, rule)
	}
	return v, nil
}
