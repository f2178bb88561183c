package auction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/couponauction/internal/chain"
	"github.com/terminal-bench/couponauction/internal/coupon"
	"github.com/terminal-bench/couponauction/pkg/circuit"
)

// casAttempts bounds the optimistic-concurrency retry loops. A writer that
// still conflicts after this many attempts fails with ErrConflict.
const casAttempts = 3

// Core owns auction creation and cancellation.
type Core struct {
	store   Store
	coupons coupon.Repository
	chain   chain.Client
	breaker *circuit.Breaker
	now     func() time.Time
}

func NewCore(store Store, coupons coupon.Repository, chainClient chain.Client) *Core {
	return &Core{
		store:   store,
		coupons: coupons,
		chain:   chainClient,
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "chain",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 3,
		}),
		now: time.Now,
	}
}

// CreateParams are the caller-supplied auction parameters.
type CreateParams struct {
	CouponRef     string
	SellerRef     string
	Title         string
	Description   string
	Category      string
	StartingPrice decimal.Decimal
	ReservePrice  *decimal.Decimal
	BuyNowPrice   *decimal.Decimal
	Duration      time.Duration
	ExtendOnBid   bool
	Extension     time.Duration
}

// CreateResult identifies the freshly created auction.
type CreateResult struct {
	Ref     string    `json:"ref"`
	EndTime time.Time `json:"end_time"`
	TxRef   string    `json:"tx_ref"`
}

// Create validates the parameters and the coupon's state, submits the
// auction to the chain, then persists the off-chain record and marks the
// coupon listed. Every validation failure short-circuits before any state
// mutation or chain call.
func (c *Core) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if err := validateCreate(p); err != nil {
		return nil, err
	}

	cpn, err := c.coupons.FindByRef(ctx, p.CouponRef)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, fmt.Errorf("%w: coupon %s", ErrNotFound, p.CouponRef)
		}
		return nil, err
	}
	if cpn.Owner != p.SellerRef {
		return nil, fmt.Errorf("%w: caller does not own coupon %s", ErrForbidden, p.CouponRef)
	}
	if cpn.IsRedeemed {
		return nil, fmt.Errorf("%w: coupon %s is redeemed", ErrConflict, p.CouponRef)
	}
	if cpn.IsListed {
		return nil, fmt.Errorf("%w: coupon %s is already listed", ErrConflict, p.CouponRef)
	}

	now := c.now()
	endTime := now.Add(p.Duration)

	var result *chain.SubmitResult
	err = c.breaker.Execute(ctx, func() error {
		var subErr error
		result, subErr = c.chain.SubmitCreateAuction(ctx, chain.CreateRequest{
			CouponRef:     cpn.Ref,
			SellerRef:     p.SellerRef,
			MerchantRef:   cpn.MerchantRef,
			StartingPrice: p.StartingPrice,
			ReservePrice:  p.ReservePrice,
			BuyNowPrice:   p.BuyNowPrice,
			StartTime:     now,
			EndTime:       endTime,
		})
		return subErr
	})
	if err != nil {
		return nil, fmt.Errorf("chain submission failed: %w", err)
	}

	a := &Auction{
		Ref:           result.OnChainRef,
		CouponRef:     cpn.Ref,
		SellerRef:     p.SellerRef,
		MerchantRef:   cpn.MerchantRef,
		Title:         p.Title,
		Description:   p.Description,
		Category:      p.Category,
		StartingPrice: p.StartingPrice,
		ReservePrice:  p.ReservePrice,
		CurrentBid:    p.StartingPrice,
		BuyNowPrice:   p.BuyNowPrice,
		Bids:          []Bid{},
		StartTime:     now,
		EndTime:       endTime,
		ExtendOnBid:   p.ExtendOnBid,
		Extension:     p.Extension,
		Status:        StatusActive,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if a.Category == "" {
		a.Category = "general"
	}

	if err := c.store.Insert(ctx, a); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// The reconciler got to the chain event first; the record is
			// already there.
			return &CreateResult{Ref: a.Ref, EndTime: endTime, TxRef: result.TxRef}, nil
		}
		return nil, err
	}

	if err := c.coupons.MarkListed(ctx, cpn.Ref, true); err != nil {
		log.Printf("auction %s: failed to mark coupon %s listed: %v", a.Ref, cpn.Ref, err)
	}

	return &CreateResult{Ref: a.Ref, EndTime: endTime, TxRef: result.TxRef}, nil
}

func validateCreate(p CreateParams) error {
	switch {
	case p.CouponRef == "":
		return fmt.Errorf("%w: coupon ref is required", ErrValidation)
	case p.SellerRef == "":
		return fmt.Errorf("%w: seller ref is required", ErrValidation)
	case p.Title == "":
		return fmt.Errorf("%w: title is required", ErrValidation)
	case !p.StartingPrice.IsPositive():
		return fmt.Errorf("%w: starting price must be positive", ErrValidation)
	case p.ReservePrice != nil && !p.ReservePrice.IsPositive():
		return fmt.Errorf("%w: reserve price must be positive", ErrValidation)
	case p.BuyNowPrice != nil && !p.BuyNowPrice.IsPositive():
		return fmt.Errorf("%w: buy-now price must be positive", ErrValidation)
	case p.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrValidation)
	case p.Extension <= 0:
		return fmt.Errorf("%w: extension must be positive", ErrValidation)
	}
	return nil
}

// Cancel terminates an auction before any bid exists. Only the seller may
// cancel; cancelling after bids would strand bidder escrow on chain, so the
// no-bids rule is enforced here rather than left to convention.
func (c *Core) Cancel(ctx context.Context, ref, actorRef string) error {
	if actorRef == "" {
		return fmt.Errorf("%w: actor ref is required", ErrValidation)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		a, err := c.store.Get(ctx, ref)
		if err != nil {
			return err
		}
		if a.SellerRef != actorRef {
			return fmt.Errorf("%w: only the seller may cancel", ErrForbidden)
		}
		if a.Status != StatusActive {
			return fmt.Errorf("%w: auction %s is %s", ErrConflict, ref, a.Status)
		}
		if len(a.Bids) > 0 {
			return fmt.Errorf("%w: auction %s has bids", ErrConflict, ref)
		}

		a.Status = StatusCancelled
		a.IsActive = false
		a.UpdatedAt = c.now()

		err = c.store.Update(ctx, a)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		if err := c.coupons.MarkListed(ctx, a.CouponRef, false); err != nil {
			log.Printf("auction %s: failed to unlist coupon %s: %v", ref, a.CouponRef, err)
		}
		return nil
	}
	return fmt.Errorf("%w: auction %s is being modified concurrently", ErrConflict, ref)
}

// Get returns one auction by reference.
func (c *Core) Get(ctx context.Context, ref string) (*Auction, error) {
	return c.store.Get(ctx, ref)
}

// Page is a paginated List result.
type Page struct {
	Items      []*Auction `json:"items"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
}

// List returns auctions matching the filter, newest first.
func (c *Core) List(ctx context.Context, f Filter, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	items, total, err := c.store.List(ctx, f, page, limit)
	if err != nil {
		return nil, err
	}

	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	return &Page{Items: items, Page: page, Limit: limit, Total: total, TotalPages: totalPages}, nil
}
