package committee

import (
	"context"
	"sort"
	"sync"
)

// Source of committee assignments used by representative lookups.
type Store interface {
	// Sorted committee names for a member. Unknown members get an empty list, not an error.
	CommitteesFor(ctx context.Context, member string) ([]string, error)
	// Atomically swaps in a complete new set of assignments.
	Replace(ctx context.Context, a Assignments) error
	// Number of (committee, member) pairs held.
	Count(ctx context.Context) (int, error)
}

// In-process Store, indexed by normalized member name.
type MemStore struct {
	mu       sync.RWMutex
	byMember map[string][]string
	count    int
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{byMember: map[string][]string{}}
}

func (s *MemStore) CommitteesFor(ctx context.Context, member string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	committees := s.byMember[NormalizeMember(member)]
	out := make([]string, len(committees))
	copy(out, committees)
	return out, nil
}

func (s *MemStore) Replace(ctx context.Context, a Assignments) error {
	byMember := map[string][]string{}
	count := 0
	for committee, members := range a {
		seen := map[string]bool{}
		for _, m := range members {
			norm := NormalizeMember(m)
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			byMember[norm] = append(byMember[norm], committee)
			count++
		}
	}
	for _, committees := range byMember {
		sort.Strings(committees)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMember = byMember
	s.count = count
	return nil
}

func (s *MemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, nil
}
