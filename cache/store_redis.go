package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	opts *redis.Options

	mu     sync.Mutex
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// Parses the redis URL but does not connect. The connection is established on first use, or by an explicit call to Connect.
//
// `redisURL` contains all the redis connection config options: redis://<user>:<pass>@<hostname>:6379/<db>
func NewRedisStore(redisURL string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("%w: redis URL is empty", ErrConfiguration)
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse redis URL: %w", ErrConfiguration, err)
	}
	return &RedisStore{opts: opt}, nil
}

// Wraps an already-constructed client (eg, shared with other components).
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		opts:   client.Options(),
		client: client,
	}
}

// Returns the shared client, creating it on first call. Safe to call concurrently.
func (s *RedisStore) Client() *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.client = redis.NewClient(s.opts)
	}
	return s.client
}

// Connect initializes the client (if needed) and checks the connection.
func (s *RedisStore) Connect(ctx context.Context) error {
	return s.Ping(ctx)
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.Client().Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storeErr("GET", err)
	}
	return b, nil
}

func (s *RedisStore) SetEx(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.Client().SetEx(ctx, key, val, ttl).Err(); err != nil {
		return storeErr("SETEX", err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.Client().Del(ctx, keys...).Err(); err != nil {
		return storeErr("DEL", err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.Client().Keys(ctx, pattern).Result()
	if err != nil {
		return nil, storeErr("KEYS", err)
	}
	return keys, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.Client().Ping(ctx).Err(); err != nil {
		return storeErr("PING", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", ErrStoreUnavailable, op, err)
}
