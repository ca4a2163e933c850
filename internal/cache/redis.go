package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces cache keys in a shared Redis
const DefaultRedisPrefix = "nfse:cache:"

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore shares cache entries between processes. It uses the same entry
// encoding as FileStore; Redis errors are reported as misses on read.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	log       *zap.Logger
	now       func() time.Time
}

// NewRedisStore creates a store over an existing client
func NewRedisStore(client *redis.Client, keyPrefix string, log *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		log:       log,
		now:       time.Now,
	}
}

func (s *RedisStore) key(key string) string {
	return s.keyPrefix + HashKey(key)
}

// Get reads the entry for key
func (s *RedisStore) Get(ctx context.Context, key string, ttl time.Duration) (*Lookup, bool) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Debug("redis cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	lookup, ok := decodeEntry(data, s.now(), ttl)
	if !ok {
		s.log.Debug("redis cache entry corrupt", zap.String("key", key))
		return nil, false
	}
	return lookup, true
}

// Put stores the entry without expiry; staleness is decided by readers
func (s *RedisStore) Put(ctx context.Context, key string, value any) error {
	data, err := encodeEntry(value, s.now())
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
