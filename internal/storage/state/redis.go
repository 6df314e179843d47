package state

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig connection settings read from the environment.
type RedisConfig struct {
	Addr            string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Username        string        `env:"REDIS_USERNAME"`
	Password        string        `env:"REDIS_PASSWORD"`
	DB              int           `env:"REDIS_DB" envDefault:"0"`
	ConnectTimeout  time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"5s"`
	MaxRetries      int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	MinRetryBackoff time.Duration `env:"REDIS_MIN_RETRY_BACKOFF" envDefault:"100ms"`
	MaxRetryBackoff time.Duration `env:"REDIS_MAX_RETRY_BACKOFF" envDefault:"2s"`
	PoolSize        int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	PrefixKey       string        `env:"REDIS_PREFIX_KEY" envDefault:"sigtrader:"`
}

// LoadRedisConfig parses RedisConfig from the environment.
func LoadRedisConfig() (RedisConfig, error) {
	var cfg RedisConfig
	if err := env.Parse(&cfg); err != nil {
		return RedisConfig{}, errors.Wrap(err, "parse redis env config")
	}
	return cfg, nil
}

// NewRedisClient connects to redis and pings it.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
		DialTimeout:     cfg.ConnectTimeout,
		ReadTimeout:     cfg.ConnectTimeout,
		WriteTimeout:    cfg.ConnectTimeout,
		PoolSize:        cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr)
	}

	return client, nil
}

// RedisBackend stores every key as a plain redis string under a namespace prefix.
// GET and SET are atomic per key, which is all the stores rely on.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBackend creates a backend whose keys are stored as <prefix><key>.
func NewRedisBackend(client redis.Cmdable, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

// MarketNamespace is the key prefix of the market store under the configured root prefix.
func MarketNamespace(root string) string {
	return root + "market:"
}

// AccountNamespace is the key prefix of a user's account store under the configured root prefix.
func AccountNamespace(root, user string) string {
	return root + "account:" + user + ":"
}
