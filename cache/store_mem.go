package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// In-process Store, for development without redis and for tests. Bounded by an LRU; each entry carries its own expiry.
type MemStore struct {
	data *lru.Cache[string, memEntry]
	now  func() time.Time
}

type memEntry struct {
	val     []byte
	expires time.Time
}

var _ Store = (*MemStore)(nil)

func NewMemStore(capacity int) (*MemStore, error) {
	data, err := lru.New[string, memEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &MemStore{
		data: data,
		now:  time.Now,
	}, nil
}

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	e, ok := s.data.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(e.expires) {
		s.data.Remove(key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.val))
	copy(out, e.val)
	return out, nil
}

func (s *MemStore) SetEx(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	b := make([]byte, len(val))
	copy(b, val)
	s.data.Add(key, memEntry{
		val:     b,
		expires: s.now().Add(ttl),
	})
	return nil
}

func (s *MemStore) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		s.data.Remove(k)
	}
	return nil
}

func (s *MemStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	now := s.now()
	var out []string
	for _, k := range s.data.Keys() {
		e, ok := s.data.Peek(k)
		if !ok || !now.Before(e.expires) {
			continue
		}
		if MatchPattern(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *MemStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemStore) Close() error {
	s.data.Purge()
	return nil
}
