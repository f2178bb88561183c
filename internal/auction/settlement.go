package auction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/couponauction/internal/chain"
	"github.com/terminal-bench/couponauction/internal/coupon"
	"github.com/terminal-bench/couponauction/pkg/circuit"
)

// Settlement determines the winner and final price of expired auctions and
// finalizes their state. Settle is idempotent: concurrent or repeated
// invocations converge to the same result, and the coupon ownership
// transfer runs at most once because only the caller that wins the version
// write performs it.
type Settlement struct {
	store   Store
	coupons coupon.Repository
	chain   chain.Client
	breaker *circuit.Breaker
	now     func() time.Time
}

func NewSettlement(store Store, coupons coupon.Repository, chainClient chain.Client) *Settlement {
	return &Settlement{
		store:   store,
		coupons: coupons,
		chain:   chainClient,
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "chain-settle",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 3,
		}),
		now: time.Now,
	}
}

// SettleResult is the settlement outcome. Winner is empty and FinalPrice
// nil for an unsold auction.
type SettleResult struct {
	Winner     string           `json:"winner,omitempty"`
	FinalPrice *decimal.Decimal `json:"final_price,omitempty"`
	SettledAt  time.Time        `json:"settled_at"`
	TxRef      string           `json:"tx_ref,omitempty"`
}

// Settle finalizes an expired auction. Calling it on an already-settled
// auction is a no-op that returns the previously computed outcome; any
// caller may trigger it once the end time has passed.
func (s *Settlement) Settle(ctx context.Context, ref string) (*SettleResult, error) {
	a, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if a.IsSettled {
		return priorResult(a), nil
	}
	if a.Status == StatusCancelled {
		return nil, fmt.Errorf("%w: auction %s is cancelled", ErrConflict, ref)
	}
	if s.now().Before(a.EndTime) {
		return nil, fmt.Errorf("%w: auction %s has not ended yet", ErrExpired, ref)
	}

	// One chain submission regardless of how many write attempts follow.
	var sub *chain.SubmitResult
	err = s.breaker.Execute(ctx, func() error {
		var subErr error
		sub, subErr = s.chain.SubmitSettle(ctx, ref)
		return subErr
	})
	if err != nil {
		return nil, fmt.Errorf("chain submission failed: %w", err)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		if attempt > 0 {
			if a, err = s.store.Get(ctx, ref); err != nil {
				return nil, err
			}
			if a.IsSettled {
				// Lost the race to a concurrent settle; its writer owns the
				// transfer side effect.
				return priorResult(a), nil
			}
			if a.Status == StatusCancelled {
				return nil, fmt.Errorf("%w: auction %s is cancelled", ErrConflict, ref)
			}
		}

		now := s.now()
		winner := ""
		var finalPrice *decimal.Decimal
		if len(a.Bids) > 0 {
			winner = a.HighestBidder
			price := a.CurrentBid
			finalPrice = &price
		}

		a.Status = StatusSettled
		a.IsActive = false
		a.IsSettled = true
		a.Winner = winner
		a.FinalPrice = finalPrice
		a.SettledAt = &now
		a.SettlementTxRef = sub.TxRef
		a.UpdatedAt = now

		err = s.store.Update(ctx, a)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		// This caller won the settlement write, so it alone runs the
		// ownership side effects.
		s.finishCoupon(ctx, a, winner, sub.TxRef, now)

		return &SettleResult{Winner: winner, FinalPrice: finalPrice, SettledAt: now, TxRef: sub.TxRef}, nil
	}

	return nil, fmt.Errorf("%w: auction %s is being modified concurrently", ErrConflict, ref)
}

func (s *Settlement) finishCoupon(ctx context.Context, a *Auction, winner, txRef string, now time.Time) {
	if winner == "" {
		if err := s.coupons.MarkListed(ctx, a.CouponRef, false); err != nil {
			log.Printf("settle %s: failed to unlist coupon %s: %v", a.Ref, a.CouponRef, err)
		}
		return
	}

	err := s.coupons.TransferOwnership(ctx, a.CouponRef, winner, coupon.Transfer{
		From:      a.SellerRef,
		To:        winner,
		Timestamp: now,
		TxRef:     txRef,
	})
	if err != nil {
		log.Printf("settle %s: failed to transfer coupon %s to %s: %v", a.Ref, a.CouponRef, winner, err)
	}
}

func priorResult(a *Auction) *SettleResult {
	res := &SettleResult{Winner: a.Winner, FinalPrice: a.FinalPrice, TxRef: a.SettlementTxRef}
	if a.SettledAt != nil {
		res.SettledAt = *a.SettledAt
	}
	return res
}

// Sweeper periodically settles every active auction whose end time has
// passed. Settlement idempotence makes it safe to run alongside explicit
// API settles and the event reconciler.
type Sweeper struct {
	settlement *Settlement
	store      Store
	interval   time.Duration
	now        func() time.Time

	shutdown chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(settlement *Settlement, store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		settlement: settlement,
		store:      store,
		interval:   interval,
		now:        time.Now,
		shutdown:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (w *Sweeper) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.Sweep(ctx)
			case <-w.shutdown:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sweep loop and waits for the current pass to finish.
func (w *Sweeper) Stop() {
	close(w.shutdown)
	w.wg.Wait()
}

// Sweep settles every due auction once. Failures on individual auctions
// are logged and do not stop the pass.
func (w *Sweeper) Sweep(ctx context.Context) {
	refs, err := w.store.Due(ctx, w.now())
	if err != nil {
		log.Printf("settlement sweep: failed to list due auctions: %v", err)
		return
	}

	for _, ref := range refs {
		if _, err := w.settlement.Settle(ctx, ref); err != nil {
			log.Printf("settlement sweep: auction %s: %v", ref, err)
		}
	}
}
