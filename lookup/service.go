package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leonardo-dashboard/leonardo/cache"
	"github.com/leonardo-dashboard/leonardo/civic"
	"github.com/leonardo-dashboard/leonardo/committee"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Per-ZIP error message when no representative could be found.
const NotFoundMessage = "No representative found"

// Number of ZIP codes in a batch fetched concurrently.
const batchConcurrency = 4

// No representative is associated with the ZIP code.
var ErrNotFound = errors.New("no representative found")

// Authoritative source of representative data. Implemented by *civic.Client.
type Source interface {
	LookupRepresentative(ctx context.Context, address string) (*civic.Official, error)
	Ping(ctx context.Context) error
}

// House representative for a ZIP code.
type Representative struct {
	ZIP      string          `json:"zip_code"`
	Name     string          `json:"name"`
	Party    string          `json:"party"`
	State    string          `json:"state"`
	District string          `json:"district"`
	PhotoURL string          `json:"photo_url,omitempty"`
	Channels []civic.Channel `json:"channels,omitempty"`
	URLs     []string        `json:"urls,omitempty"`
	// Always empty (null) in the representative cache entry; attached on every lookup.
	Committees []string `json:"committees"`
}

// One entry of a batch lookup. Error is set (and the other fields empty) when no representative was found.
type Result struct {
	ZIP        string   `json:"zip_code"`
	Name       string   `json:"name,omitempty"`
	Party      string   `json:"party,omitempty"`
	District   string   `json:"district,omitempty"`
	Committees []string `json:"committees"`
	Error      string   `json:"error,omitempty"`
}

type Health struct {
	Healthy bool            `json:"-"`
	Status  string          `json:"status"`
	Checks  map[string]bool `json:"checks"`
	Version string          `json:"version,omitempty"`
	Time    time.Time       `json:"timestamp"`
}

type Config struct {
	Cache      *cache.Service
	Source     Source
	Committees committee.Store
	Logger     *slog.Logger

	// Expiry of cached representatives, committee lists, and batch results. Zero means the cache default.
	RepresentativeTTL time.Duration
	CommitteeTTL      time.Duration
	LookupTTL         time.Duration

	// Reported by Health
	Version string
}

// Read-through lookups of representatives and committee memberships, with the cache in front of the civic API and the committee store.
//
// A cache failure is treated the same as a miss: results never depend on the cache being available.
type Service struct {
	cache      *cache.Service
	source     Source
	committees committee.Store
	logger     *slog.Logger

	repTTL       time.Duration
	committeeTTL time.Duration
	lookupTTL    time.Duration
	version      string

	// coalesces concurrent misses for the same representative key
	inflight singleflight.Group
	// serializes committee refreshes
	refreshLk sync.Mutex
	// bumped by every committee refresh; cache writes derived from committee data are dropped if it moved
	generation atomic.Uint64
}

func New(config Config) (*Service, error) {
	if config.Cache == nil {
		return nil, fmt.Errorf("%w: lookup service requires a cache", cache.ErrConfiguration)
	}
	if config.Source == nil {
		return nil, fmt.Errorf("%w: lookup service requires a representative source", cache.ErrConfiguration)
	}
	if config.Committees == nil {
		config.Committees = committee.NewMemStore()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Service{
		cache:        config.Cache,
		source:       config.Source,
		committees:   config.Committees,
		logger:       config.Logger.With("component", "lookup"),
		repTTL:       config.RepresentativeTTL,
		committeeTTL: config.CommitteeTTL,
		lookupTTL:    config.LookupTTL,
		version:      config.Version,
	}, nil
}

// Looks up the representative for a ZIP code, with committee memberships attached.
//
// Returns ErrInvalidZIP for a malformed ZIP code and ErrNotFound when there is no representative; other errors come from the source (eg civic.ErrUpstream). Concurrent misses for the same ZIP code share a single upstream request.
func (s *Service) Representative(ctx context.Context, zip string) (*Representative, error) {
	start := time.Now()
	rep, err := s.representative(ctx, zip)
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not-found"
	case errors.Is(err, ErrInvalidZIP):
		status = "invalid"
	case err != nil:
		status = "error"
	}
	representativeLookups.WithLabelValues(status).Inc()
	representativeLookupDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return rep, err
}

func (s *Service) representative(ctx context.Context, zip string) (*Representative, error) {
	if !ValidZIP(zip) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZIP, zip)
	}
	key := RepresentativeKey(zip)

	rep, res := cache.GetValue[Representative](ctx, s.cache, key)
	if !res.Hit() {
		fetched, err := s.fetchRepresentative(ctx, zip)
		if err != nil {
			return nil, err
		}
		rep = *fetched
	}

	committees, err := s.CommitteesFor(ctx, rep.Name)
	if err != nil {
		// committee data is supplementary; still return the representative
		s.logger.Warn("committee lookup failed", "member", rep.Name, "err", err)
		committees = []string{}
	}
	rep.Committees = committees
	return &rep, nil
}

// Fetches from the source and populates the cache, coalescing concurrent requests for the same ZIP code.
func (s *Service) fetchRepresentative(ctx context.Context, zip string) (*Representative, error) {
	key := RepresentativeKey(zip)
	ch := s.inflight.DoChan(key, func() (any, error) {
		// the fetch is shared, so must not be cancelled by whichever caller started it
		fetchCtx := context.WithoutCancel(ctx)
		official, err := s.source.LookupRepresentative(fetchCtx, zip)
		if errors.Is(err, civic.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		} else if err != nil {
			return nil, err
		}

		district, err := FormatDistrict(official.State, official.District)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		rep := &Representative{
			ZIP:      zip,
			Name:     official.Name,
			Party:    FormatParty(official.Party),
			State:    official.State,
			District: district,
			PhotoURL: official.PhotoURL,
			Channels: official.Channels,
			URLs:     official.URLs,
		}
		// write failures are logged by the cache, and otherwise ignored
		s.cache.SetWithTTL(fetchCtx, key, rep, s.repTTL)
		return rep, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			representativeRequestsCoalesced.Inc()
		}
		if r.Err != nil {
			return nil, r.Err
		}
		// callers get their own copy, since committees are attached afterwards
		rep := *r.Val.(*Representative)
		return &rep, nil
	}
}

// Sorted committee names for a member, read through the cache.
func (s *Service) CommitteesFor(ctx context.Context, member string) ([]string, error) {
	if committee.NormalizeMember(member) == "" {
		return []string{}, nil
	}
	key := CommitteeKey(member)
	gen := s.generation.Load()
	committees, res := cache.GetValue[[]string](ctx, s.cache, key)
	if res.Hit() && committees != nil {
		return committees, nil
	}

	committees, err := s.committees.CommitteesFor(ctx, member)
	if err != nil {
		return nil, err
	}
	if committees == nil {
		committees = []string{}
	}
	s.setIfCurrent(ctx, gen, key, committees, s.committeeTTL)
	return committees, nil
}

// Looks up a batch of ZIP codes (trimmed and de-duplicated, at most MaxBatchSize), preserving request order.
//
// ZIP codes with no representative get a Result with Error set, rather than failing the batch; any other failure fails the whole batch. Complete batch results are cached.
func (s *Service) Lookup(ctx context.Context, zips []string) ([]Result, error) {
	zips, err := NormalizeZIPs(zips)
	if err != nil {
		return nil, err
	}
	key := LookupKey(zips)
	gen := s.generation.Load()

	cached, res := cache.GetValue[[]Result](ctx, s.cache, key)
	if res.Hit() {
		if ordered, ok := inOrder(cached, zips); ok {
			return ordered, nil
		}
		s.logger.Warn("ignoring mismatched cached batch", "key", key)
	}

	results := make([]Result, len(zips))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(batchConcurrency)
	for i, zip := range zips {
		eg.Go(func() error {
			rep, err := s.Representative(egCtx, zip)
			if errors.Is(err, ErrNotFound) {
				results[i] = Result{ZIP: zip, Committees: []string{}, Error: NotFoundMessage}
				return nil
			} else if err != nil {
				return fmt.Errorf("looking up %s: %w", zip, err)
			}
			results[i] = Result{
				ZIP:        zip,
				Name:       rep.Name,
				Party:      rep.Party,
				District:   rep.District,
				Committees: rep.Committees,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	s.setIfCurrent(ctx, gen, key, results, s.lookupTTL)
	return results, nil
}

// Caches a value derived from committee data read at generation gen. A refresh which started after gen may already have cleared the namespace, in which case the value is stale: it is not written, or removed again if the refresh raced with the write.
func (s *Service) setIfCurrent(ctx context.Context, gen uint64, key string, val any, ttl time.Duration) {
	if s.generation.Load() != gen {
		s.logger.Debug("skipping cache write after committee refresh", "key", key)
		return
	}
	if !s.cache.SetWithTTL(ctx, key, val, ttl).OK() {
		return
	}
	if s.generation.Load() != gen {
		s.cache.Delete(ctx, key)
	}
}

// Orders cached results to match the request. Fails if the cached set does not cover exactly the requested ZIP codes.
func inOrder(cached []Result, zips []string) ([]Result, bool) {
	if len(cached) != len(zips) {
		return nil, false
	}
	byZIP := make(map[string]Result, len(cached))
	for _, r := range cached {
		byZIP[r.ZIP] = r
	}
	out := make([]Result, 0, len(zips))
	for _, z := range zips {
		r, ok := byZIP[z]
		if !ok {
			return nil, false
		}
		if r.Committees == nil {
			r.Committees = []string{}
		}
		out = append(out, r)
	}
	return out, true
}

// Swaps in new committee assignments, then invalidates every cached committee list and batch result. Cached representatives are kept, since committees are attached at read time.
//
// Cache invalidation is best-effort; entries which could not be cleared expire by TTL.
func (s *Service) RefreshCommittees(ctx context.Context, a committee.Assignments) error {
	s.refreshLk.Lock()
	defer s.refreshLk.Unlock()

	if err := s.committees.Replace(ctx, a); err != nil {
		committeeRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("replacing committee data: %w", err)
	}
	s.generation.Add(1)
	for _, pattern := range []string{CommitteePattern, LookupPattern} {
		if n, res := s.cache.Clear(ctx, pattern); res.Failed() {
			s.logger.Warn("failed to invalidate cache namespace after committee refresh", "pattern", pattern, "err", res.Err)
		} else {
			s.logger.Debug("invalidated cache namespace", "pattern", pattern, "keys", n)
		}
	}
	committeeRefreshes.WithLabelValues("success").Inc()
	s.logger.Info("committee data refreshed", "committees", len(a), "assignments", a.Len())
	return nil
}

// Aggregates health checks of the cache, the upstream API, and the committee data. Never returns an error.
func (s *Service) Health(ctx context.Context) Health {
	checks := map[string]bool{"api": true}
	var mu sync.Mutex
	var wg sync.WaitGroup
	check := func(name string, f func() bool) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := f()
			mu.Lock()
			checks[name] = ok
			mu.Unlock()
		}()
	}

	check("cache", func() bool {
		return s.cache.IsHealthy(ctx)
	})
	check("civic_api", func() bool {
		if err := s.source.Ping(ctx); err != nil {
			s.logger.Warn("civic API health check failed", "err", err)
			return false
		}
		return true
	})
	check("committee_data", func() bool {
		n, err := s.committees.Count(ctx)
		if err != nil {
			s.logger.Warn("committee data health check failed", "err", err)
			return false
		}
		return n > 0
	})
	wg.Wait()

	h := Health{
		Healthy: true,
		Status:  "healthy",
		Checks:  checks,
		Version: s.version,
		Time:    time.Now().UTC(),
	}
	for _, ok := range checks {
		if !ok {
			h.Healthy = false
			h.Status = "unhealthy"
		}
	}
	return h
}
