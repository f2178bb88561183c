package chain

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/terminal-bench/couponauction/pkg/messaging"
	"github.com/terminal-bench/couponauction/shared/events"
)

// Simulator is a Client that fabricates transaction references locally and,
// when a messaging client is configured, mirrors the chain program's event
// emission onto the event feed subject. It stands in for the real program in
// development and in tests; the synchronous path and the reconciler then
// converge on the same record exactly as they would against the live chain.
type Simulator struct {
	msg *messaging.Client
	now func() time.Time
}

// NewSimulator creates a simulator. msg may be nil, in which case no events
// are emitted.
func NewSimulator(msg *messaging.Client) *Simulator {
	return &Simulator{msg: msg, now: time.Now}
}

func (s *Simulator) SubmitCreateAuction(ctx context.Context, req CreateRequest) (*SubmitResult, error) {
	res := &SubmitResult{
		TxRef:      newTxRef(),
		OnChainRef: "auction-" + uuid.NewString(),
	}

	data := events.AuctionCreatedData{
		AuctionRef:    res.OnChainRef,
		CouponRef:     req.CouponRef,
		SellerRef:     req.SellerRef,
		MerchantRef:   req.MerchantRef,
		StartingPrice: req.StartingPrice.String(),
		StartTime:     req.StartTime.Unix(),
		EndTime:       req.EndTime.Unix(),
	}
	if req.ReservePrice != nil {
		data.ReservePrice = req.ReservePrice.String()
	}
	if req.BuyNowPrice != nil {
		data.BuyNowPrice = req.BuyNowPrice.String()
	}

	s.emit(ctx, events.TypeAuctionCreated, res.TxRef, data)
	return res, nil
}

func (s *Simulator) SubmitBid(ctx context.Context, auctionRef, bidderRef string, amount decimal.Decimal) (*SubmitResult, error) {
	res := &SubmitResult{TxRef: newTxRef(), OnChainRef: auctionRef}

	s.emit(ctx, events.TypeBidPlaced, res.TxRef, events.BidPlacedData{
		AuctionRef: auctionRef,
		BidderRef:  bidderRef,
		Amount:     amount.String(),
		Timestamp:  s.now().Unix(),
	})
	return res, nil
}

func (s *Simulator) SubmitSettle(ctx context.Context, auctionRef string) (*SubmitResult, error) {
	// The settled winner is decided by the program from on-chain state; the
	// simulator leaves the finalized event to the engine's own write path
	// and only hands back a transaction reference.
	return &SubmitResult{TxRef: newTxRef(), OnChainRef: auctionRef}, nil
}

func (s *Simulator) emit(ctx context.Context, eventType, signature string, data interface{}) {
	if s.msg == nil {
		return
	}

	ev, err := events.New(eventType, signature, data)
	if err != nil {
		log.Printf("chain simulator: failed to build %s event: %v", eventType, err)
		return
	}
	if err := s.msg.Publish(ctx, events.SubjectEvents, ev); err != nil {
		log.Printf("chain simulator: failed to publish %s event: %v", eventType, err)
	}
}

func newTxRef() string {
	return "tx-" + uuid.NewString()
}
