package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leonardo-dashboard/leonardo/cache"
	"github.com/leonardo-dashboard/leonardo/civic"
	"github.com/leonardo-dashboard/leonardo/committee"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	officials map[string]*civic.Official
	calls     map[string]int
	err       error
	pingErr   error
	// if not nil, lookups block until it is closed
	gate chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		officials: map[string]*civic.Official{
			"20001": {Name: "Jane Doe", Party: "Democratic Party", State: "DC", District: "1"},
			"94110": {Name: "John Smith", Party: "D", State: "CA", District: "11", URLs: []string{"https://smith.house.gov"}},
			"10001": {Name: "Maria Garcia", Party: "Republican Party", State: "NY", District: "12"},
		},
		calls: map[string]int{},
	}
}

func (f *fakeSource) LookupRepresentative(ctx context.Context, address string) (*civic.Official, error) {
	f.mu.Lock()
	f.calls[address]++
	gate := f.gate
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	o, ok := f.officials[address]
	if !ok {
		return nil, fmt.Errorf("%w: no officials", civic.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeSource) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeSource) callCount(zip string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[zip]
}

func testAssignments() committee.Assignments {
	return committee.Assignments{
		"Committee on Appropriations": {"Jane Doe", "Maria Garcia"},
		"Committee on Ethics":         {"Jane Doe"},
	}
}

func newTestService(t *testing.T, store cache.Store) (*Service, *fakeSource, *cache.Service) {
	if store == nil {
		mem, err := cache.NewMemStore(1000)
		require.NoError(t, err)
		store = mem
	}
	c, err := cache.NewService(store, cache.Config{DefaultTTL: time.Hour, OpTimeout: time.Second})
	require.NoError(t, err)

	committees := committee.NewMemStore()
	require.NoError(t, committees.Replace(context.Background(), testAssignments()))

	src := newFakeSource()
	svc, err := New(Config{
		Cache:      c,
		Source:     src,
		Committees: committees,
		LookupTTL:  time.Hour,
		Version:    "test",
	})
	require.NoError(t, err)
	return svc, src, c
}

func TestNewConfiguration(t *testing.T) {
	_, err := New(Config{Source: newFakeSource()})
	assert.ErrorIs(t, err, cache.ErrConfiguration)

	mem, err := cache.NewMemStore(10)
	require.NoError(t, err)
	c, err := cache.NewService(mem, cache.Config{DefaultTTL: time.Minute})
	require.NoError(t, err)
	_, err = New(Config{Cache: c})
	assert.ErrorIs(t, err, cache.ErrConfiguration)
}

func TestRepresentativeReadThrough(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	svc, src, c := newTestService(t, nil)

	rep, err := svc.Representative(ctx, "20001")
	require.NoError(err)
	assert.Equal("20001", rep.ZIP)
	assert.Equal("Jane Doe", rep.Name)
	assert.Equal("Democratic", rep.Party)
	assert.Equal("DC-01", rep.District)
	assert.Equal([]string{"Committee on Appropriations", "Committee on Ethics"}, rep.Committees)
	assert.Equal(1, src.callCount("20001"))

	// populated the cache, without committees
	cached, res := cache.GetValue[Representative](ctx, c, RepresentativeKey("20001"))
	require.True(res.Hit())
	assert.Equal("Jane Doe", cached.Name)
	assert.Nil(cached.Committees)
	var raw json.RawMessage
	require.True(c.Get(ctx, RepresentativeKey("20001"), &raw).Hit())
	assert.Contains(string(raw), `"committees":null`)
	committees, res := cache.GetValue[[]string](ctx, c, CommitteeKey("Jane Doe"))
	require.True(res.Hit())
	assert.Equal(rep.Committees, committees)

	// second lookup is served from the cache
	again, err := svc.Representative(ctx, "20001")
	require.NoError(err)
	assert.Equal(rep, again)
	assert.Equal(1, src.callCount("20001"))

	rep, err = svc.Representative(ctx, "94110")
	require.NoError(err)
	assert.Equal("CA-11", rep.District)
	assert.Equal([]string{}, rep.Committees)
	assert.Equal([]string{"https://smith.house.gov"}, rep.URLs)
}

func TestRepresentativeErrors(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, src, c := newTestService(t, nil)

	_, err := svc.Representative(ctx, "2000")
	assert.ErrorIs(err, ErrInvalidZIP)
	assert.Equal(0, src.callCount("2000"))

	_, err = svc.Representative(ctx, "99999")
	assert.ErrorIs(err, ErrNotFound)
	// not-found results are not cached
	_, res := cache.GetValue[Representative](ctx, c, RepresentativeKey("99999"))
	assert.False(res.Hit())
	_, err = svc.Representative(ctx, "99999")
	assert.ErrorIs(err, ErrNotFound)
	assert.Equal(2, src.callCount("99999"))

	// unparsable district
	src.officials["00000"] = &civic.Official{Name: "Nobody", State: "ZZ", District: "1"}
	_, err = svc.Representative(ctx, "00000")
	assert.ErrorIs(err, ErrNotFound)

	src.err = fmt.Errorf("%w: boom", civic.ErrUpstream)
	_, err = svc.Representative(ctx, "10001")
	assert.ErrorIs(err, civic.ErrUpstream)
	assert.NotErrorIs(err, ErrNotFound)
}

func TestRepresentativeSingleFlight(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, src, _ := newTestService(t, nil)

	src.gate = make(chan struct{})
	var wg sync.WaitGroup
	reps := make([]*Representative, 20)
	errs := make([]error, 20)
	for i := range reps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reps[i], errs[i] = svc.Representative(ctx, "20001")
		}()
	}
	// wait until the first fetch is in flight, then give the others time to join it
	assert.Eventually(func() bool { return src.callCount("20001") == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(1, src.callCount("20001"))
	for i := range reps {
		assert.NoError(errs[i])
		assert.Equal("Jane Doe", reps[i].Name)
	}
	// each caller has its own copy
	reps[0].Committees[0] = "changed"
	assert.Equal("Committee on Appropriations", reps[1].Committees[0])
}

func TestRepresentativeCancelledCaller(t *testing.T) {
	svc, src, _ := newTestService(t, nil)
	src.gate = make(chan struct{})
	defer close(src.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := svc.Representative(ctx, "20001")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRepresentativeCacheUnavailable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	store, err := cache.NewRedisStore("redis://" + mr.Addr())
	require.NoError(err)
	svc, src, _ := newTestService(t, store)
	mr.SetError("ERR unavailable")

	// every lookup falls back to the source
	for i := 0; i < 3; i++ {
		rep, err := svc.Representative(ctx, "20001")
		require.NoError(err)
		assert.Equal("Jane Doe", rep.Name)
		assert.Equal([]string{"Committee on Appropriations", "Committee on Ethics"}, rep.Committees)
	}
	assert.Equal(3, src.callCount("20001"))

	results, err := svc.Lookup(ctx, []string{"20001", "99999"})
	require.NoError(err)
	assert.Len(results, 2)

	h := svc.Health(ctx)
	assert.False(h.Healthy)
	assert.False(h.Checks["cache"])
	assert.True(h.Checks["civic_api"])

	// recovers once redis is back
	mr.SetError("")
	_, err = svc.Representative(ctx, "20001")
	require.NoError(err)
	_, err = svc.Representative(ctx, "20001")
	require.NoError(err)
	assert.Equal(5, src.callCount("20001"))
}

func TestLookupBatch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	svc, src, c := newTestService(t, nil)

	results, err := svc.Lookup(ctx, []string{"94110", "99999", "20001", "94110"})
	require.NoError(err)
	require.Len(results, 3)
	assert.Equal(Result{ZIP: "94110", Name: "John Smith", Party: "Democratic", District: "CA-11", Committees: []string{}}, results[0])
	assert.Equal(Result{ZIP: "99999", Committees: []string{}, Error: NotFoundMessage}, results[1])
	assert.Equal("20001", results[2].ZIP)
	assert.Equal([]string{"Committee on Appropriations", "Committee on Ethics"}, results[2].Committees)

	_, res := cache.GetValue[[]Result](ctx, c, "lookup:20001,94110,99999")
	assert.True(res.Hit())

	// a reordered request is served from the cached batch, in request order
	reordered, err := svc.Lookup(ctx, []string{"20001", "99999", "94110"})
	require.NoError(err)
	assert.Equal([]Result{results[2], results[1], results[0]}, reordered)
	assert.Equal(1, src.callCount("99999"))

	_, err = svc.Lookup(ctx, []string{})
	assert.ErrorIs(err, ErrNoZIPs)
	_, err = svc.Lookup(ctx, []string{"1234"})
	assert.ErrorIs(err, ErrInvalidZIP)
}

func TestLookupBatchUpstreamFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, src, c := newTestService(t, nil)

	src.err = fmt.Errorf("%w: unavailable", civic.ErrUpstream)
	_, err := svc.Lookup(ctx, []string{"20001", "10001"})
	assert.ErrorIs(err, civic.ErrUpstream)

	// failed batches are not cached
	_, res := cache.GetValue[[]Result](ctx, c, LookupKey([]string{"20001", "10001"}))
	assert.False(res.Hit())
}

func TestRefreshCommittees(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	svc, src, c := newTestService(t, nil)

	_, err := svc.Lookup(ctx, []string{"20001", "10001"})
	require.NoError(err)
	require.True(c.Get(ctx, CommitteeKey("Jane Doe"), &[]string{}).Hit())

	require.NoError(svc.RefreshCommittees(ctx, committee.Assignments{
		"Committee on Rules": {"Jane Doe"},
	}))

	// committee and batch namespaces are invalidated; representatives are kept
	assert.False(c.Get(ctx, CommitteeKey("Jane Doe"), &[]string{}).Hit())
	assert.False(c.Get(ctx, LookupKey([]string{"20001", "10001"}), &[]Result{}).Hit())
	assert.True(c.Get(ctx, RepresentativeKey("20001"), &Representative{}).Hit())

	results, err := svc.Lookup(ctx, []string{"20001", "10001"})
	require.NoError(err)
	assert.Equal([]string{"Committee on Rules"}, results[0].Committees)
	assert.Equal([]string{}, results[1].Committees)
	assert.Equal(1, src.callCount("20001"))
}

// committee store which, once armed, parks the next read after it has been served
type stallingCommittees struct {
	*committee.MemStore
	mu      sync.Mutex
	read    chan struct{}
	release chan struct{}
}

func (s *stallingCommittees) arm() (read, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = make(chan struct{})
	s.release = make(chan struct{})
	return s.read, s.release
}

func (s *stallingCommittees) CommitteesFor(ctx context.Context, member string) ([]string, error) {
	out, err := s.MemStore.CommitteesFor(ctx, member)
	s.mu.Lock()
	read, release := s.read, s.release
	s.read, s.release = nil, nil
	s.mu.Unlock()
	if read != nil {
		close(read)
		<-release
	}
	return out, err
}

func newStallingService(t *testing.T) (*Service, *stallingCommittees, *cache.Service) {
	mem, err := cache.NewMemStore(100)
	require.NoError(t, err)
	c, err := cache.NewService(mem, cache.Config{DefaultTTL: time.Hour})
	require.NoError(t, err)

	committees := &stallingCommittees{MemStore: committee.NewMemStore()}
	require.NoError(t, committees.Replace(context.Background(), committee.Assignments{
		"Old Committee": {"Jane Doe"},
	}))
	svc, err := New(Config{Cache: c, Source: newFakeSource(), Committees: committees})
	require.NoError(t, err)
	return svc, committees, c
}

func TestRefreshDuringCommitteeRead(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	svc, committees, c := newStallingService(t)

	read, release := committees.arm()
	done := make(chan []string)
	go func() {
		out, err := svc.CommitteesFor(ctx, "Jane Doe")
		assert.NoError(err)
		done <- out
	}()
	<-read

	require.NoError(svc.RefreshCommittees(ctx, committee.Assignments{
		"New Committee": {"Jane Doe"},
	}))
	close(release)
	// the in-flight read was served before the refresh
	assert.Equal([]string{"Old Committee"}, <-done)

	// but must not have repopulated the cache with old data
	assert.False(c.Get(ctx, CommitteeKey("Jane Doe"), &[]string{}).Hit())
	out, err := svc.CommitteesFor(ctx, "Jane Doe")
	require.NoError(err)
	assert.Equal([]string{"New Committee"}, out)

	cached, res := cache.GetValue[[]string](ctx, c, CommitteeKey("Jane Doe"))
	assert.True(res.Hit())
	assert.Equal([]string{"New Committee"}, cached)
}

func TestRefreshDuringBatchLookup(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	svc, committees, c := newStallingService(t)

	read, release := committees.arm()
	done := make(chan []Result)
	go func() {
		out, err := svc.Lookup(ctx, []string{"20001"})
		assert.NoError(err)
		done <- out
	}()
	<-read

	require.NoError(svc.RefreshCommittees(ctx, committee.Assignments{
		"New Committee": {"Jane Doe"},
	}))
	close(release)
	results := <-done
	require.Len(results, 1)
	assert.Equal([]string{"Old Committee"}, results[0].Committees)

	assert.False(c.Get(ctx, LookupKey([]string{"20001"}), &[]Result{}).Hit())
	assert.False(c.Get(ctx, CommitteeKey("Jane Doe"), &[]string{}).Hit())

	results, err := svc.Lookup(ctx, []string{"20001"})
	require.NoError(err)
	assert.Equal([]string{"New Committee"}, results[0].Committees)
	assert.True(c.Get(ctx, LookupKey([]string{"20001"}), &[]Result{}).Hit())
}

type brokenCommittees struct{}

func (brokenCommittees) CommitteesFor(ctx context.Context, member string) ([]string, error) {
	return nil, errors.New("database gone")
}

func (brokenCommittees) Replace(ctx context.Context, a committee.Assignments) error {
	return errors.New("database gone")
}

func (brokenCommittees) Count(ctx context.Context) (int, error) {
	return 0, errors.New("database gone")
}

func TestCommitteeStoreFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mem, err := cache.NewMemStore(100)
	require.NoError(t, err)
	c, err := cache.NewService(mem, cache.Config{DefaultTTL: time.Hour})
	require.NoError(t, err)
	svc, err := New(Config{Cache: c, Source: newFakeSource(), Committees: brokenCommittees{}})
	require.NoError(t, err)

	// representative is still returned, without committees (and nothing is cached for them)
	rep, err := svc.Representative(ctx, "20001")
	require.NoError(t, err)
	assert.Equal([]string{}, rep.Committees)
	assert.False(c.Get(ctx, CommitteeKey("Jane Doe"), &[]string{}).Hit())

	assert.Error(svc.RefreshCommittees(ctx, testAssignments()))

	h := svc.Health(ctx)
	assert.False(h.Healthy)
	assert.False(h.Checks["committee_data"])
}

func TestHealth(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, src, _ := newTestService(t, nil)

	h := svc.Health(ctx)
	assert.True(h.Healthy)
	assert.Equal("healthy", h.Status)
	assert.Equal("test", h.Version)
	assert.Equal(map[string]bool{"api": true, "cache": true, "civic_api": true, "committee_data": true}, h.Checks)

	src.pingErr = errors.New("forbidden")
	h = svc.Health(ctx)
	assert.False(h.Healthy)
	assert.Equal("unhealthy", h.Status)
	assert.False(h.Checks["civic_api"])

	// no committee data loaded
	src.pingErr = nil
	require.NoError(t, svc.RefreshCommittees(ctx, committee.Assignments{}))
	h = svc.Health(ctx)
	assert.False(h.Healthy)
	assert.False(h.Checks["committee_data"])
}
