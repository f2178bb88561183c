// Package chain defines the blockchain client consumed by the auction
// engine. Transaction submission, signing and confirmation belong to the
// implementation behind this interface; the engine only records the returned
// references and reconciles final state from the event feed.
package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SubmitResult carries the references produced by a chain submission.
type SubmitResult struct {
	TxRef      string
	OnChainRef string
}

// CreateRequest describes an auction account initialization.
type CreateRequest struct {
	CouponRef     string
	SellerRef     string
	MerchantRef   string
	StartingPrice decimal.Decimal
	ReservePrice  *decimal.Decimal
	BuyNowPrice   *decimal.Decimal
	StartTime     time.Time
	EndTime       time.Time
}

// Client submits auction transactions. Implementations may fail or time
// out; retry policy is the caller's responsibility.
type Client interface {
	SubmitCreateAuction(ctx context.Context, req CreateRequest) (*SubmitResult, error)
	SubmitBid(ctx context.Context, auctionRef, bidderRef string, amount decimal.Decimal) (*SubmitResult, error)
	SubmitSettle(ctx context.Context, auctionRef string) (*SubmitResult, error)
}
