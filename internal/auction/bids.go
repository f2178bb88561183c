package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/couponauction/internal/chain"
	"github.com/terminal-bench/couponauction/pkg/circuit"
)

// Ledger validates and applies bids against one auction record. Competing
// bids on the same auction serialize through the store's version check: a
// writer that loses the race re-reads the post-write state and either
// retries or is rejected against the new current bid. Bids on unrelated
// auctions never contend.
type Ledger struct {
	store   Store
	chain   chain.Client
	breaker *circuit.Breaker
	now     func() time.Time
}

func NewLedger(store Store, chainClient chain.Client) *Ledger {
	return &Ledger{
		store: store,
		chain: chainClient,
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "chain-bid",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 3,
		}),
		now: time.Now,
	}
}

// PlaceBidResult reports the auction state after an accepted bid.
type PlaceBidResult struct {
	CurrentBid decimal.Decimal `json:"current_bid"`
	EndTime    time.Time       `json:"end_time"`
	TotalBids  int             `json:"total_bids"`
	TxRef      string          `json:"tx_ref"`
}

// PlaceBid applies one bid. The bid must strictly exceed the current bid,
// the auction must be active and unexpired, and the seller may not bid on
// their own auction. No payment moves here; the chain client holds the
// escrow and its events are reconciled later.
func (l *Ledger) PlaceBid(ctx context.Context, ref, bidderRef string, amount decimal.Decimal) (*PlaceBidResult, error) {
	if bidderRef == "" {
		return nil, fmt.Errorf("%w: bidder ref is required", ErrValidation)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: bid amount must be positive", ErrValidation)
	}

	a, err := l.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := l.checkBid(a, bidderRef, amount, l.now()); err != nil {
		return nil, err
	}

	// Submit to the chain once, before the write loop; a storage conflict
	// must not double-submit the transaction.
	var result *chain.SubmitResult
	err = l.breaker.Execute(ctx, func() error {
		var subErr error
		result, subErr = l.chain.SubmitBid(ctx, ref, bidderRef, amount)
		return subErr
	})
	if err != nil {
		return nil, fmt.Errorf("chain submission failed: %w", err)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		if attempt > 0 {
			// Re-read and re-validate against the post-write state.
			if a, err = l.store.Get(ctx, ref); err != nil {
				return nil, err
			}
		}

		now := l.now()
		if err := l.checkBid(a, bidderRef, amount, now); err != nil {
			return nil, err
		}

		a.MarkWinner(Bid{
			BidderRef: bidderRef,
			Amount:    amount,
			Timestamp: now,
			TxRef:     result.TxRef,
		})
		a.ExtendForBid(now)
		a.UpdatedAt = now

		err = l.store.Update(ctx, a)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return &PlaceBidResult{
			CurrentBid: a.CurrentBid,
			EndTime:    a.EndTime,
			TotalBids:  a.TotalBids,
			TxRef:      result.TxRef,
		}, nil
	}

	return nil, fmt.Errorf("%w: auction %s is receiving concurrent bids, retry", ErrConflict, ref)
}

func (l *Ledger) checkBid(a *Auction, bidderRef string, amount decimal.Decimal, now time.Time) error {
	if a.Status != StatusActive {
		return fmt.Errorf("%w: auction %s is %s", ErrConflict, a.Ref, a.Status)
	}
	if !now.Before(a.EndTime) {
		return fmt.Errorf("%w: auction %s has ended", ErrExpired, a.Ref)
	}
	if a.SellerRef == bidderRef {
		return fmt.Errorf("%w: seller cannot bid on own auction", ErrForbidden)
	}
	if amount.Cmp(a.CurrentBid) <= 0 {
		return fmt.Errorf("%w: bid %s does not exceed current bid %s",
			ErrConflict, amount.String(), a.CurrentBid.String())
	}
	return nil
}
