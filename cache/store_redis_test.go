package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisService(t *testing.T, hook MetricsHook) (*Service, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	svc, err := NewService(store, Config{
		DefaultTTL: time.Hour,
		OpTimeout:  time.Second,
		Metrics:    hook,
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, mr
}

func TestNewRedisStoreConfiguration(t *testing.T) {
	assert := assert.New(t)

	_, err := NewRedisStore("")
	assert.ErrorIs(err, ErrConfiguration)

	_, err = NewRedisStore("http://localhost:6379")
	assert.ErrorIs(err, ErrConfiguration)

	s, err := NewRedisStore("redis://localhost:6379/0")
	assert.NoError(err)
	// no connection until first use
	assert.Nil(s.client)
}

func TestRedisStoreLazyConnect(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)

	s, err := NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	assert.Nil(s.client)

	c1 := s.Client()
	c2 := s.Client()
	assert.Same(c1, c2)
	assert.NoError(s.Connect(ctx))

	assert.NoError(s.Close())
	assert.Nil(s.client)
	// closing twice is fine, and the store reconnects on next use
	assert.NoError(s.Close())
	assert.NoError(s.Ping(ctx))
	assert.NoError(s.Close())
}

func TestRedisServiceRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	hook := &countingHook{}
	svc, mr := newRedisService(t, hook)

	rep := map[string]any{"name": "Jane Doe", "party": "D", "district": "DC-01"}
	assert.True(svc.SetWithTTL(ctx, "rep:20001", rep, 3600*time.Second).OK())
	assert.Equal(3600*time.Second, mr.TTL("rep:20001"))

	raw, err := mr.Get("rep:20001")
	require.NoError(t, err)
	assert.JSONEq(`{"name":"Jane Doe","party":"D","district":"DC-01"}`, raw)

	var out map[string]any
	assert.True(svc.Get(ctx, "rep:20001", &out).Hit())
	assert.Equal(rep, out)
	assert.Equal(int64(1), hook.hits.Load())

	_, res := svc.Clear(ctx, "rep:*")
	assert.True(res.OK())
	assert.Equal(OutcomeMiss, svc.Get(ctx, "rep:20001", &out).Outcome)
	assert.Equal(int64(1), hook.misses.Load())
}

func TestRedisServiceDefaultTTL(t *testing.T) {
	ctx := context.Background()
	svc, mr := newRedisService(t, nil)

	assert.True(t, svc.Set(ctx, "rep:20001", "x").OK())
	assert.Equal(t, time.Hour, mr.TTL("rep:20001"))

	assert.True(t, svc.SetWithTTL(ctx, "rep:20002", "x", -1).OK())
	assert.Equal(t, time.Hour, mr.TTL("rep:20002"))
}

func TestRedisServiceExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, mr := newRedisService(t, nil)

	assert.True(svc.SetWithTTL(ctx, "rep:20001", "x", time.Second).OK())
	var out string
	assert.True(svc.Get(ctx, "rep:20001", &out).Hit())

	mr.FastForward(2 * time.Second)
	assert.Equal(OutcomeMiss, svc.Get(ctx, "rep:20001", &out).Outcome)
}

func TestRedisServiceClearPattern(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, mr := newRedisService(t, nil)

	for _, k := range []string{"rep:20001", "rep:20002", "committee:42"} {
		assert.True(svc.Set(ctx, k, k).OK())
	}
	n, res := svc.Clear(ctx, "rep:*")
	assert.True(res.OK())
	assert.Equal(2, n)
	assert.False(mr.Exists("rep:20001"))
	assert.False(mr.Exists("rep:20002"))
	assert.True(mr.Exists("committee:42"))
}

func TestRedisServiceDelete(t *testing.T) {
	ctx := context.Background()
	svc, mr := newRedisService(t, nil)

	assert.True(t, svc.Set(ctx, "rep:20001", "x").OK())
	assert.True(t, svc.Delete(ctx, "rep:20001").OK())
	assert.False(t, mr.Exists("rep:20001"))
	assert.True(t, svc.Delete(ctx, "rep:20001").OK())
}

func TestRedisServiceUnavailable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	hook := &countingHook{}
	svc, mr := newRedisService(t, hook)

	assert.True(svc.IsHealthy(ctx))
	assert.True(svc.Set(ctx, "rep:20001", "x").OK())

	mr.SetError("LOADING redis is loading the dataset in memory")

	var out string
	res := svc.Get(ctx, "rep:20001", &out)
	assert.True(res.Failed())
	assert.ErrorIs(res.Err, ErrStoreUnavailable)
	assert.True(svc.Set(ctx, "rep:20001", "y").Failed())
	assert.True(svc.Delete(ctx, "rep:20001").Failed())
	_, res = svc.Clear(ctx, "*")
	assert.True(res.Failed())
	assert.False(svc.IsHealthy(ctx))
	assert.Equal(int64(0), hook.misses.Load()+hook.hits.Load())

	mr.SetError("")
	assert.True(svc.IsHealthy(ctx))
	assert.True(svc.Get(ctx, "rep:20001", &out).Hit())
	assert.Equal("x", out)
}

func TestRedisServiceServerGone(t *testing.T) {
	ctx := context.Background()
	svc, mr := newRedisService(t, nil)
	mr.Close()

	var out string
	assert.True(t, svc.Get(ctx, "rep:20001", &out).Failed())
	assert.False(t, svc.IsHealthy(ctx))
}

func TestRedisStoreLive(t *testing.T) {
	t.Skip("live test, need redis running locally")
	ctx := context.Background()

	s, err := NewRedisStore("redis://localhost:6379/0")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.SetEx(ctx, "test:live", []byte(`"ok"`), time.Second))
	b, err := s.Get(ctx, "test:live")
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(b))
	require.NoError(t, s.Del(ctx, "test:live"))
}
