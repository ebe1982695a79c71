package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Bound on each store round-trip when Config.OpTimeout is not set.
const DefaultOpTimeout = 2 * time.Second

type Config struct {
	Logger *slog.Logger

	// Expiry used by Set, and by SetWithTTL when the override is not positive. Must be at least one second.
	DefaultTTL time.Duration

	// Bound on each store round-trip; a timeout is treated as the store being unavailable.
	OpTimeout time.Duration

	// Optional; defaults to NoopMetrics.
	Metrics MetricsHook
}

// Service is a fail-soft facade over a Store, with JSON values.
//
// None of the methods return errors: failures are logged and reported as an OutcomeFailed Result, with the operation having had no effect. The Service holds no per-call state, and is safe for concurrent use.
type Service struct {
	store      Store
	logger     *slog.Logger
	defaultTTL time.Duration
	opTimeout  time.Duration
	metrics    MetricsHook
}

// Validates configuration; returns an error wrapping ErrConfiguration if the TTL or timeout is invalid. Does not contact the store.
func NewService(store Store, config Config) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: no store provided", ErrConfiguration)
	}
	if config.DefaultTTL < time.Second {
		return nil, fmt.Errorf("%w: default TTL must be at least 1s (got %s)", ErrConfiguration, config.DefaultTTL)
	}
	if config.OpTimeout < 0 {
		return nil, fmt.Errorf("%w: operation timeout must be positive (got %s)", ErrConfiguration, config.OpTimeout)
	}
	if config.OpTimeout == 0 {
		config.OpTimeout = DefaultOpTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}
	return &Service{
		store:      store,
		logger:     config.Logger.With("component", "cache"),
		defaultTTL: config.DefaultTTL.Truncate(time.Second),
		opTimeout:  config.OpTimeout,
		metrics:    config.Metrics,
	}, nil
}

func (s *Service) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Looks up key and decodes the JSON value into val, which must be a pointer.
//
// Reports a hit or miss to the metrics hook whenever the store was reachable. A stored value which fails to decode counts as a miss, and returns OutcomeFailed with ErrSerialization.
func (s *Service) Get(ctx context.Context, key string, val any) Result {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	b, err := s.store.Get(opCtx, key)
	if errors.Is(err, ErrNotFound) {
		s.metrics.RecordCacheEvent(ctx, false)
		return s.result("get", Result{Outcome: OutcomeMiss})
	}
	if err != nil {
		err = unavailable(err)
		s.logger.Error("cache retrieval failed", "key", key, "err", err)
		return s.result("get", failed(err))
	}

	if err := json.Unmarshal(b, val); err != nil {
		err = fmt.Errorf("%w: decoding %q: %w", ErrSerialization, key, err)
		s.logger.Error("cache retrieval failed", "key", key, "err", err)
		s.metrics.RecordCacheEvent(ctx, false)
		return s.result("get", failed(err))
	}
	s.metrics.RecordCacheEvent(ctx, true)
	return s.result("get", Result{Outcome: OutcomeHit})
}

// Typed wrapper around Service.Get. Returns the zero value unless the result is a hit.
func GetValue[T any](ctx context.Context, s *Service, key string) (T, Result) {
	var val T
	res := s.Get(ctx, key, &val)
	if !res.Hit() {
		var zero T
		return zero, res
	}
	return val, res
}

// Stores val (encoded as JSON) with the default TTL.
func (s *Service) Set(ctx context.Context, key string, val any) Result {
	return s.SetWithTTL(ctx, key, val, 0)
}

// Stores val (encoded as JSON) with an explicit TTL. A TTL of zero or less means "use the default", never "no expiry". Sub-second TTLs are rounded up to one second.
func (s *Service) SetWithTTL(ctx context.Context, key string, val any, ttl time.Duration) Result {
	ttl = s.effectiveTTL(ttl)

	b, err := json.Marshal(val)
	if err != nil {
		err = fmt.Errorf("%w: encoding %q: %w", ErrSerialization, key, err)
		s.logger.Error("cache storage failed", "key", key, "err", err)
		return s.result("set", failed(err))
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.store.SetEx(opCtx, key, b, ttl); err != nil {
		err = unavailable(err)
		s.logger.Error("cache storage failed", "key", key, "ttl", ttl, "err", err)
		return s.result("set", failed(err))
	}
	return s.result("set", Result{Outcome: OutcomeOK})
}

func (s *Service) Delete(ctx context.Context, key string) Result {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.store.Del(opCtx, key); err != nil {
		err = unavailable(err)
		s.logger.Error("cache deletion failed", "key", key, "err", err)
		return s.result("delete", failed(err))
	}
	return s.result("delete", Result{Outcome: OutcomeOK})
}

// Removes every key matching a redis-style glob pattern (empty pattern matches everything). Keys are enumerated in a single call, then deleted in a single batch.
//
// Returns the number of keys removed.
func (s *Service) Clear(ctx context.Context, pattern string) (int, Result) {
	if pattern == "" {
		pattern = "*"
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	keys, err := s.store.Keys(opCtx, pattern)
	cancel()
	if err != nil {
		err = unavailable(err)
		s.logger.Error("cache clear failed", "pattern", pattern, "err", err)
		return 0, s.result("clear", failed(err))
	}
	if len(keys) == 0 {
		return 0, s.result("clear", Result{Outcome: OutcomeOK})
	}

	opCtx, cancel = context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.store.Del(opCtx, keys...); err != nil {
		err = unavailable(err)
		s.logger.Error("cache clear failed", "pattern", pattern, "keys", len(keys), "err", err)
		return 0, s.result("clear", failed(err))
	}
	cacheClearedKeys.Add(float64(len(keys)))
	s.logger.Info("cache cleared", "pattern", pattern, "keys", len(keys))
	return len(keys), s.result("clear", Result{Outcome: OutcomeOK})
}

// Lightweight liveness probe against the store. Never returns an error.
func (s *Service) IsHealthy(ctx context.Context) bool {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.store.Ping(opCtx); err != nil {
		s.logger.Warn("cache health check failed", "err", err)
		return false
	}
	return true
}

// Delegates to the metrics hook. Returns false if no hook is configured or the metric is unknown.
func (s *Service) GetMetric(ctx context.Context, name string) (any, bool) {
	return s.metrics.GetMetric(ctx, name)
}

// Releases the underlying store connection.
func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	if ttl < time.Second {
		return time.Second
	}
	return ttl.Truncate(time.Second)
}

func (s *Service) result(op string, r Result) Result {
	cacheOps.WithLabelValues(op, r.Outcome.String()).Inc()
	return r
}

// normalizes arbitrary store errors (including context deadlines) to ErrStoreUnavailable
func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
