package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status    Status
	Category  string
	SellerRef string
}

// Store persists one Auction record per unique external reference.
// Update is a compare-and-swap on the record's Version: it fails with
// ErrVersionConflict when the stored version differs from the one the
// caller read, and increments the version on success.
type Store interface {
	Insert(ctx context.Context, a *Auction) error
	Get(ctx context.Context, ref string) (*Auction, error)
	Update(ctx context.Context, a *Auction) error
	List(ctx context.Context, f Filter, page, limit int) ([]*Auction, int, error)
	// Due returns the refs of every active auction whose end time has
	// passed, for the settlement sweep.
	Due(ctx context.Context, now time.Time) ([]string, error)
}

// MemoryStore is an in-memory Store. All reads and writes deep-copy so
// callers never alias the stored record.
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[string]*Auction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{auctions: make(map[string]*Auction)}
}

func (s *MemoryStore) Insert(ctx context.Context, a *Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.auctions[a.Ref]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, a.Ref)
	}

	cp := a.Clone()
	cp.Version = 1
	s.auctions[a.Ref] = cp
	a.Version = 1
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) (*Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[ref]
	if !ok {
		return nil, fmt.Errorf("%w: auction %s", ErrNotFound, ref)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, a *Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.auctions[a.Ref]
	if !ok {
		return fmt.Errorf("%w: auction %s", ErrNotFound, a.Ref)
	}
	if cur.Version != a.Version {
		return fmt.Errorf("%w: auction %s", ErrVersionConflict, a.Ref)
	}

	cp := a.Clone()
	cp.Version = a.Version + 1
	s.auctions[a.Ref] = cp
	a.Version = cp.Version
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter, page, limit int) ([]*Auction, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	s.mu.RLock()
	var matched []*Auction
	for _, a := range s.auctions {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Category != "" && a.Category != f.Category {
			continue
		}
		if f.SellerRef != "" && a.SellerRef != f.SellerRef {
			continue
		}
		matched = append(matched, a.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []*Auction{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) Due(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []string
	for _, a := range s.auctions {
		if a.IsActive && !a.EndTime.After(now) {
			refs = append(refs, a.Ref)
		}
	}
	return refs, nil
}
