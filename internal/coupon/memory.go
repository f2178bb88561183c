package coupon

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository is an in-memory Repository used in tests and single-node
// deployments without a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	coupons map[string]*Coupon
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{coupons: make(map[string]*Coupon)}
}

// Put inserts or replaces a coupon.
func (r *MemoryRepository) Put(c *Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.Transfers = append([]Transfer(nil), c.Transfers...)
	r.coupons[c.Ref] = &cp
}

func (r *MemoryRepository) FindByRef(ctx context.Context, ref string) (*Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.coupons[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	cp := *c
	cp.Transfers = append([]Transfer(nil), c.Transfers...)
	return &cp, nil
}

func (r *MemoryRepository) MarkListed(ctx context.Context, ref string, listed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	c.IsListed = listed
	return nil
}

func (r *MemoryRepository) TransferOwnership(ctx context.Context, ref, newOwner string, t Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	c.Owner = newOwner
	c.IsListed = false
	c.Transfers = append(c.Transfers, t)
	return nil
}
