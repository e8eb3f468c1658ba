package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrHeld is returned when another process holds the run lock.
var ErrHeld = errors.New("run lock held by another process")

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker guards a run so that two processes never harvest at the same time.
type Locker interface {
	Acquire(ctx context.Context) (Release, error)
}

// Config defines the redis lock settings
type Config struct {
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	Key           string        `mapstructure:"key" yaml:"key"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock is a single-key SET NX lock with a random token
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    *logrus.Entry
}

// NewRedisLock creates a lock on key that expires after ttl unless released.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration, log *logrus.Entry) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl, log: log}
}

// Acquire implements Locker.
func (l *RedisLock) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	l.log.WithFields(logrus.Fields{"key": l.key, "ttl": l.ttl}).Debug("Run lock acquired")

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", l.key, err)
		}
		if n == 0 {
			l.log.WithField("key", l.key).Warn("Run lock expired before release")
		}
		return nil
	}, nil
}

// Noop never blocks.
type Noop struct{}

// Acquire implements Locker.
func (Noop) Acquire(context.Context) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// New returns a redis backed locker when an address is configured and Noop otherwise.
// The returned close function releases the redis client.
func New(ctx context.Context, cfg Config, log *logrus.Entry) (Locker, func() error, error) {
	if cfg.RedisAddr == "" {
		return Noop{}, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisLock(client, cfg.Key, cfg.TTL, log), client.Close, nil
}
