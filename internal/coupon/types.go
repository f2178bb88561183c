package coupon

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("coupon not found")

// Coupon is the off-chain record of a tradable coupon NFT.
type Coupon struct {
	Ref                string     `json:"ref"`
	NFTMint            string     `json:"nft_mint"`
	PromotionRef       string     `json:"promotion_ref"`
	Owner              string     `json:"owner"`
	MerchantRef        string     `json:"merchant_ref"`
	DiscountPercentage int        `json:"discount_percentage"`
	ExpiryTimestamp    time.Time  `json:"expiry_timestamp"`
	IsRedeemed         bool       `json:"is_redeemed"`
	IsListed           bool       `json:"is_listed"`
	Transfers          []Transfer `json:"transfers"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Transfer records ownership provenance.
type Transfer struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	TxRef     string    `json:"tx_ref"`
}

// Repository is the coupon collaborator consumed by the auction engine.
type Repository interface {
	FindByRef(ctx context.Context, ref string) (*Coupon, error)
	MarkListed(ctx context.Context, ref string, listed bool) error
	// TransferOwnership reassigns the coupon to newOwner, clears the listed
	// flag and appends the transfer to the provenance history.
	TransferOwnership(ctx context.Context, ref, newOwner string, t Transfer) error
}
