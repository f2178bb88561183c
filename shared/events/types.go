package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// NATS subjects
const (
	SubjectEvents     = "auction.events"
	SubjectDeadLetter = "auction.events.deadletter"
)

// Event types emitted by the on-chain auction program
const (
	TypeAuctionCreated   = "auction.created"
	TypeBidPlaced        = "auction.bid_placed"
	TypeAuctionFinalized = "auction.finalized"
	TypeAuctionCancelled = "auction.cancelled"
)

// Event is the envelope delivered by the chain event feed. Signature is the
// transaction reference of the emitting transaction and doubles as the
// idempotency key; Data holds one of the typed payloads below, selected by
// Type.
type Event struct {
	Signature string          `json:"signature"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// AuctionCreatedData is emitted when an auction account is initialized.
// Prices travel as decimal strings; times as unix seconds.
type AuctionCreatedData struct {
	AuctionRef    string `json:"auction"`
	CouponRef     string `json:"coupon"`
	SellerRef     string `json:"seller"`
	MerchantRef   string `json:"merchant"`
	StartingPrice string `json:"starting_price"`
	ReservePrice  string `json:"reserve_price,omitempty"`
	BuyNowPrice   string `json:"buy_now_price,omitempty"`
	StartTime     int64  `json:"start_time"`
	EndTime       int64  `json:"end_time"`
}

// BidPlacedData is emitted for every accepted on-chain bid.
type BidPlacedData struct {
	AuctionRef string `json:"auction"`
	BidderRef  string `json:"bidder"`
	Amount     string `json:"amount"`
	Timestamp  int64  `json:"timestamp"`
}

// AuctionFinalizedData is emitted when an auction is settled on chain.
// Winner and FinalPrice are empty for an unsold auction.
type AuctionFinalizedData struct {
	AuctionRef string `json:"auction"`
	Winner     string `json:"winner,omitempty"`
	FinalPrice string `json:"final_price,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// AuctionCancelledData is emitted when a seller cancels an unbid auction.
type AuctionCancelledData struct {
	AuctionRef string `json:"auction"`
}

// New builds an event envelope around a typed payload.
func New(eventType, signature string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	return &Event{
		Signature: signature,
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      raw,
	}, nil
}

// ParseData decodes the payload into the given type.
func (e *Event) ParseData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}
