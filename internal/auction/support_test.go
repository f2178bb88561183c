package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/couponauction/internal/chain"
	"github.com/terminal-bench/couponauction/internal/coupon"
)

// chainStub fabricates submission results without emitting events.
type chainStub struct {
	mu      sync.Mutex
	creates int
	bids    int
	settles int
	err     error
}

func (s *chainStub) SubmitCreateAuction(ctx context.Context, req chain.CreateRequest) (*chain.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.creates++
	return &chain.SubmitResult{
		TxRef:      fmt.Sprintf("tx-create-%d", s.creates),
		OnChainRef: fmt.Sprintf("auction-%d", s.creates),
	}, nil
}

func (s *chainStub) SubmitBid(ctx context.Context, auctionRef, bidderRef string, amount decimal.Decimal) (*chain.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.bids++
	return &chain.SubmitResult{TxRef: fmt.Sprintf("tx-bid-%d", s.bids), OnChainRef: auctionRef}, nil
}

func (s *chainStub) SubmitSettle(ctx context.Context, auctionRef string) (*chain.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.settles++
	return &chain.SubmitResult{TxRef: fmt.Sprintf("tx-settle-%d", s.settles), OnChainRef: auctionRef}, nil
}

// countingCoupons counts ownership transfers on top of the memory repo.
type countingCoupons struct {
	*coupon.MemoryRepository
	mu        sync.Mutex
	transfers int
}

func newCountingCoupons() *countingCoupons {
	return &countingCoupons{MemoryRepository: coupon.NewMemoryRepository()}
}

func (r *countingCoupons) TransferOwnership(ctx context.Context, ref, newOwner string, t coupon.Transfer) error {
	r.mu.Lock()
	r.transfers++
	r.mu.Unlock()
	return r.MemoryRepository.TransferOwnership(ctx, ref, newOwner, t)
}

func (r *countingCoupons) transferCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transfers
}

// flakyStore injects version conflicts into the first N updates.
type flakyStore struct {
	Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Update(ctx context.Context, a *Auction) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return fmt.Errorf("%w: injected", ErrVersionConflict)
	}
	s.mu.Unlock()
	return s.Store.Update(ctx, a)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedCoupon(repo interface{ Put(*coupon.Coupon) }, ref, owner string) {
	repo.Put(&coupon.Coupon{
		Ref:                ref,
		NFTMint:            "mint-" + ref,
		PromotionRef:       "promo-" + ref,
		Owner:              owner,
		MerchantRef:        "merchant-1",
		DiscountPercentage: 20,
		ExpiryTimestamp:    testBase.Add(90 * 24 * time.Hour),
		CreatedAt:          testBase,
	})
}

// newActiveAuction persists a test auction ending one hour after testBase.
func newActiveAuction(store Store, ref, seller string) *Auction {
	a := &Auction{
		Ref:           ref,
		CouponRef:     "coupon-" + ref,
		SellerRef:     seller,
		MerchantRef:   "merchant-1",
		Title:         "20% off espresso",
		Category:      "food",
		StartingPrice: dec("100"),
		CurrentBid:    dec("100"),
		Bids:          []Bid{},
		StartTime:     testBase,
		EndTime:       testBase.Add(time.Hour),
		ExtendOnBid:   true,
		Extension:     5 * time.Minute,
		Status:        StatusActive,
		IsActive:      true,
		CreatedAt:     testBase,
		UpdatedAt:     testBase,
	}
	if err := store.Insert(context.Background(), a); err != nil {
		panic(err)
	}
	return a
}
