// Package reconciler re-applies auction lifecycle transitions learned from
// the at-least-once chain event feed. Every handler is idempotent by
// construction — existence checks, transaction-reference lookups, stale-bid
// comparisons and terminal-status guards — so a replayed or redundantly
// re-applied event never changes state twice. The bounded dedup cache is a
// short-circuit on top of that, not the correctness mechanism.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/couponauction/internal/auction"
	"github.com/terminal-bench/couponauction/internal/coupon"
	"github.com/terminal-bench/couponauction/pkg/dedup"
	"github.com/terminal-bench/couponauction/shared/events"
)

// Defaults applied to auctions first learned about from the feed, matching
// the chain program's English-auction parameters.
const (
	defaultExtension = 5 * time.Minute
)

// Promotion carries the descriptive fields a reconciler-created auction
// defaults from when the linked promotion is resolvable.
type Promotion struct {
	Title       string
	Description string
	Category    string
}

// PromotionResolver resolves the promotion behind a coupon. Optional.
type PromotionResolver interface {
	ResolveForCoupon(ctx context.Context, couponRef string) (*Promotion, error)
}

// Reconciler applies created/bid/settled/cancelled transitions through the
// same store as the synchronous path. It is safe to invoke any handler more
// than once per logical event.
type Reconciler struct {
	store   auction.Store
	coupons coupon.Repository
	promos  PromotionResolver
	seen    *dedup.Cache
	now     func() time.Time
}

// NewReconciler creates a reconciler with its own bounded dedup cache.
// promos may be nil.
func NewReconciler(store auction.Store, coupons coupon.Repository, promos PromotionResolver) *Reconciler {
	return &Reconciler{
		store:   store,
		coupons: coupons,
		promos:  promos,
		seen:    dedup.NewCache(dedup.DefaultCapacity),
		now:     time.Now,
	}
}

// IsProcessed reports whether the signature is in the dedup cache.
func (r *Reconciler) IsProcessed(signature string) bool {
	return r.seen.Contains(signature)
}

// OnAuctionCreated records an auction first seen on chain. A no-op when the
// record already exists, which covers the synchronous path having created
// it first.
func (r *Reconciler) OnAuctionCreated(ctx context.Context, ev *events.Event) error {
	if r.seen.Contains(ev.Signature) {
		return nil
	}

	var data events.AuctionCreatedData
	if err := ev.ParseData(&data); err != nil {
		return fmt.Errorf("bad auction.created payload: %w", err)
	}
	if data.AuctionRef == "" {
		return fmt.Errorf("auction.created event %s has no auction ref", ev.Signature)
	}

	if _, err := r.store.Get(ctx, data.AuctionRef); err == nil {
		r.seen.Add(ev.Signature)
		return nil
	} else if !errors.Is(err, auction.ErrNotFound) {
		return err
	}

	startingPrice, err := decimal.NewFromString(data.StartingPrice)
	if err != nil {
		return fmt.Errorf("bad starting price in event %s: %w", ev.Signature, err)
	}
	reservePrice, err := optPrice(data.ReservePrice)
	if err != nil {
		return fmt.Errorf("bad reserve price in event %s: %w", ev.Signature, err)
	}
	buyNowPrice, err := optPrice(data.BuyNowPrice)
	if err != nil {
		return fmt.Errorf("bad buy-now price in event %s: %w", ev.Signature, err)
	}

	title, description, category := r.describe(ctx, data.CouponRef)
	now := r.now()

	a := &auction.Auction{
		Ref:           data.AuctionRef,
		CouponRef:     data.CouponRef,
		SellerRef:     data.SellerRef,
		MerchantRef:   data.MerchantRef,
		Title:         title,
		Description:   description,
		Category:      category,
		StartingPrice: startingPrice,
		ReservePrice:  reservePrice,
		CurrentBid:    startingPrice,
		BuyNowPrice:   buyNowPrice,
		Bids:          []auction.Bid{},
		StartTime:     time.Unix(data.StartTime, 0).UTC(),
		EndTime:       time.Unix(data.EndTime, 0).UTC(),
		ExtendOnBid:   true,
		Extension:     defaultExtension,
		Status:        auction.StatusActive,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.store.Insert(ctx, a); err != nil {
		if errors.Is(err, auction.ErrAlreadyExists) {
			r.seen.Add(ev.Signature)
			return nil
		}
		return err
	}

	if err := r.coupons.MarkListed(ctx, data.CouponRef, true); err != nil && !errors.Is(err, coupon.ErrNotFound) {
		return err
	}

	r.seen.Add(ev.Signature)
	return nil
}

// OnBidPlaced applies a bid learned from the feed. Stale events — an amount
// not exceeding the recorded current bid, which happens under out-of-order
// delivery — are dropped rather than regressing the record. A second
// delivery of the same signature is recognized by the bid's transaction
// reference before the amount comparison.
func (r *Reconciler) OnBidPlaced(ctx context.Context, ev *events.Event) error {
	if r.seen.Contains(ev.Signature) {
		return nil
	}

	var data events.BidPlacedData
	if err := ev.ParseData(&data); err != nil {
		return fmt.Errorf("bad bid_placed payload: %w", err)
	}
	amount, err := decimal.NewFromString(data.Amount)
	if err != nil {
		return fmt.Errorf("bad bid amount in event %s: %w", ev.Signature, err)
	}
	bidTime := time.Unix(data.Timestamp, 0).UTC()

	for attempt := 0; ; attempt++ {
		a, err := r.store.Get(ctx, data.AuctionRef)
		if err != nil {
			// Propagate so the dispatcher retries; the created event for
			// this auction may simply not have arrived yet.
			return err
		}

		for _, b := range a.Bids {
			if b.TxRef == ev.Signature {
				r.seen.Add(ev.Signature)
				return nil
			}
		}

		if a.Status.Terminal() || amount.Cmp(a.CurrentBid) <= 0 {
			// Stale relative to current state; never regress the record.
			r.seen.Add(ev.Signature)
			return nil
		}

		a.MarkWinner(auction.Bid{
			BidderRef: data.BidderRef,
			Amount:    amount,
			Timestamp: bidTime,
			TxRef:     ev.Signature,
		})
		a.ExtendForBid(bidTime)
		a.UpdatedAt = r.now()

		err = r.store.Update(ctx, a)
		if errors.Is(err, auction.ErrVersionConflict) && attempt < 5 {
			continue
		}
		if err != nil {
			return err
		}

		r.seen.Add(ev.Signature)
		return nil
	}
}

// OnAuctionFinalized applies on-chain settlement. Already-settled auctions
// are a no-op, which covers both replays and the synchronous settle having
// run first.
func (r *Reconciler) OnAuctionFinalized(ctx context.Context, ev *events.Event) error {
	if r.seen.Contains(ev.Signature) {
		return nil
	}

	var data events.AuctionFinalizedData
	if err := ev.ParseData(&data); err != nil {
		return fmt.Errorf("bad finalized payload: %w", err)
	}
	finalPrice, err := optPrice(data.FinalPrice)
	if err != nil {
		return fmt.Errorf("bad final price in event %s: %w", ev.Signature, err)
	}
	settledAt := time.Unix(data.Timestamp, 0).UTC()

	for attempt := 0; ; attempt++ {
		a, err := r.store.Get(ctx, data.AuctionRef)
		if err != nil {
			return err
		}

		if a.IsSettled {
			r.seen.Add(ev.Signature)
			return nil
		}
		if a.Status == auction.StatusCancelled {
			// Terminal locally; the divergence is logged rather than
			// rewriting a terminal state.
			log.Printf("reconciler: finalized event %s for cancelled auction %s", ev.Signature, a.Ref)
			r.seen.Add(ev.Signature)
			return nil
		}

		a.Status = auction.StatusSettled
		a.IsActive = false
		a.IsSettled = true
		a.Winner = data.Winner
		a.FinalPrice = finalPrice
		a.SettledAt = &settledAt
		a.SettlementTxRef = ev.Signature
		a.UpdatedAt = r.now()

		err = r.store.Update(ctx, a)
		if errors.Is(err, auction.ErrVersionConflict) && attempt < 5 {
			continue
		}
		if err != nil {
			return err
		}

		// This write finalized the record, so this path owns the coupon
		// side effects.
		if data.Winner != "" {
			err = r.coupons.TransferOwnership(ctx, a.CouponRef, data.Winner, coupon.Transfer{
				From:      a.SellerRef,
				To:        data.Winner,
				Timestamp: settledAt,
				TxRef:     ev.Signature,
			})
			if err != nil && !errors.Is(err, coupon.ErrNotFound) {
				return err
			}
		} else if err := r.coupons.MarkListed(ctx, a.CouponRef, false); err != nil && !errors.Is(err, coupon.ErrNotFound) {
			return err
		}

		r.seen.Add(ev.Signature)
		return nil
	}
}

// OnAuctionCancelled marks an auction cancelled unless it already reached a
// terminal state.
func (r *Reconciler) OnAuctionCancelled(ctx context.Context, ev *events.Event) error {
	if r.seen.Contains(ev.Signature) {
		return nil
	}

	var data events.AuctionCancelledData
	if err := ev.ParseData(&data); err != nil {
		return fmt.Errorf("bad cancelled payload: %w", err)
	}

	for attempt := 0; ; attempt++ {
		a, err := r.store.Get(ctx, data.AuctionRef)
		if err != nil {
			return err
		}

		if a.Status.Terminal() {
			r.seen.Add(ev.Signature)
			return nil
		}

		a.Status = auction.StatusCancelled
		a.IsActive = false
		a.UpdatedAt = r.now()

		err = r.store.Update(ctx, a)
		if errors.Is(err, auction.ErrVersionConflict) && attempt < 5 {
			continue
		}
		if err != nil {
			return err
		}

		if err := r.coupons.MarkListed(ctx, a.CouponRef, false); err != nil && !errors.Is(err, coupon.ErrNotFound) {
			return err
		}

		r.seen.Add(ev.Signature)
		return nil
	}
}

func (r *Reconciler) describe(ctx context.Context, couponRef string) (title, description, category string) {
	title, description, category = "Auction", "", "general"
	if r.promos == nil {
		return
	}

	p, err := r.promos.ResolveForCoupon(ctx, couponRef)
	if err != nil || p == nil {
		return
	}
	if p.Title != "" {
		title = p.Title
	}
	if p.Description != "" {
		description = p.Description
	}
	if p.Category != "" {
		category = p.Category
	}
	return
}

func optPrice(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
