package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the auction lifecycle state. settled and cancelled are
// terminal; "ended" exists for wire compatibility with the chain program
// but no local transition produces it — expiry is observed against EndTime
// and settlement is the transition that records it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
	StatusSettled   Status = "settled"
)

// Terminal reports whether no transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// Bid is one entry in an auction's append-only bid history.
type Bid struct {
	BidderRef string          `json:"bidder_ref"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	TxRef     string          `json:"tx_ref"`
	IsWinning bool            `json:"is_winning"`
}

// Auction is the single mutable record for one auctioned coupon listing.
// Bids are embedded so that every mutation of an auction serializes through
// one storage key. Version is the optimistic-concurrency token; stores
// reject writes whose Version does not match the stored record.
type Auction struct {
	Ref         string `json:"ref"`
	CouponRef   string `json:"coupon_ref"`
	SellerRef   string `json:"seller_ref"`
	MerchantRef string `json:"merchant_ref"`

	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`

	StartingPrice decimal.Decimal  `json:"starting_price"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty"`
	CurrentBid    decimal.Decimal  `json:"current_bid"`
	BuyNowPrice   *decimal.Decimal `json:"buy_now_price,omitempty"`

	Bids          []Bid  `json:"bids"`
	TotalBids     int    `json:"total_bids"`
	HighestBidder string `json:"highest_bidder,omitempty"`

	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	ExtendOnBid bool          `json:"extend_on_bid"`
	Extension   time.Duration `json:"extension"`

	Status    Status `json:"status"`
	IsActive  bool   `json:"is_active"`
	IsSettled bool   `json:"is_settled"`

	Winner          string           `json:"winner,omitempty"`
	FinalPrice      *decimal.Decimal `json:"final_price,omitempty"`
	SettledAt       *time.Time       `json:"settled_at,omitempty"`
	SettlementTxRef string           `json:"settlement_tx_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Version int `json:"-"`
}

// Clone returns a deep copy.
func (a *Auction) Clone() *Auction {
	cp := *a
	cp.Bids = append([]Bid(nil), a.Bids...)
	if a.ReservePrice != nil {
		v := *a.ReservePrice
		cp.ReservePrice = &v
	}
	if a.BuyNowPrice != nil {
		v := *a.BuyNowPrice
		cp.BuyNowPrice = &v
	}
	if a.FinalPrice != nil {
		v := *a.FinalPrice
		cp.FinalPrice = &v
	}
	if a.SettledAt != nil {
		v := *a.SettledAt
		cp.SettledAt = &v
	}
	return &cp
}

// MarkWinner flips the previous winning bid off and appends b as the new
// winning entry, keeping the record's bid invariants intact.
func (a *Auction) MarkWinner(b Bid) {
	for i := range a.Bids {
		a.Bids[i].IsWinning = false
	}
	b.IsWinning = true
	a.Bids = append(a.Bids, b)
	a.TotalBids = len(a.Bids)
	a.CurrentBid = b.Amount
	a.HighestBidder = b.BidderRef
}

// ExtendForBid pushes EndTime forward when a bid lands within the
// anti-snipe window. EndTime never moves earlier.
func (a *Auction) ExtendForBid(bidTime time.Time) {
	if !a.ExtendOnBid {
		return
	}
	if a.EndTime.Sub(bidTime) >= a.Extension {
		return
	}
	if newEnd := bidTime.Add(a.Extension); newEnd.After(a.EndTime) {
		a.EndTime = newEnd
	}
}
