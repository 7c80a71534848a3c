package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"docvault/internal/config"
	"docvault/internal/docerr"
	"docvault/internal/model"
)

const keyPrefix = "docvault:lineage:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never removes a lock that someone else has taken since.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Dial opens the Redis client for cfg. It returns nil, nil when no URL is set.
func Dial(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Redis is a lease stored as a single key with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	token  func() string
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTokenGenerator overrides the lease token source.
func WithTokenGenerator(fn func() string) RedisOption {
	return func(r *Redis) { r.token = fn }
}

// NewRedis creates a locker whose leases expire after ttl if never released.
func NewRedis(client *redis.Client, ttl time.Duration, opts ...RedisOption) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	r := &Redis{client: client, ttl: ttl, token: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Key returns the Redis key that holds the lineage lease.
func Key(lineage model.Lineage) string {
	return keyPrefix + lineage.Key()
}

func (r *Redis) Acquire(ctx context.Context, lineage model.Lineage) (Lease, error) {
	key := Key(lineage)
	token := r.token()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, docerr.Wrap(docerr.ErrStorageUnavailable, "acquire lineage lock", err)
	}
	if !ok {
		return nil, docerr.Conflict("acquire lineage lock", lineage, "lineage is locked by another upload")
	}
	return &redisLease{client: r.client, key: key, token: token}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	once   sync.Once
	err    error
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.err = fmt.Errorf("release lineage lock %s: %w", l.key, err)
		}
	})
	return l.err
}
