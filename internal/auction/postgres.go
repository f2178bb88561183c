package auction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS auctions (
	ref               TEXT PRIMARY KEY,
	coupon_ref        TEXT NOT NULL,
	seller_ref        TEXT NOT NULL,
	merchant_ref      TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	starting_price    NUMERIC NOT NULL,
	reserve_price     NUMERIC,
	current_bid       NUMERIC NOT NULL,
	buy_now_price     NUMERIC,
	bids              JSONB NOT NULL DEFAULT '[]',
	total_bids        INT NOT NULL DEFAULT 0,
	highest_bidder    TEXT NOT NULL DEFAULT '',
	start_time        TIMESTAMPTZ NOT NULL,
	end_time          TIMESTAMPTZ NOT NULL,
	extend_on_bid     BOOLEAN NOT NULL DEFAULT TRUE,
	extension_seconds BIGINT NOT NULL DEFAULT 300,
	status            TEXT NOT NULL,
	is_active         BOOLEAN NOT NULL,
	is_settled        BOOLEAN NOT NULL,
	winner            TEXT NOT NULL DEFAULT '',
	final_price       NUMERIC,
	settled_at        TIMESTAMPTZ,
	settlement_tx_ref TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	version           INT NOT NULL
);
CREATE INDEX IF NOT EXISTS auctions_status_end_time ON auctions (status, end_time);
CREATE INDEX IF NOT EXISTS auctions_active_end_time ON auctions (is_active, end_time);
CREATE INDEX IF NOT EXISTS auctions_seller ON auctions (seller_ref, status)`

const pgColumns = `ref, coupon_ref, seller_ref, merchant_ref, title, description, category,
	starting_price, reserve_price, current_bid, buy_now_price, bids, total_bids,
	highest_bidder, start_time, end_time, extend_on_bid, extension_seconds,
	status, is_active, is_settled, winner, final_price, settled_at,
	settlement_tx_ref, created_at, updated_at, version`

// PGStore is a Postgres-backed Store. One row per auction with the bid
// history embedded as JSONB; Update is a conditional write on the version
// column.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the auctions table and indexes if absent.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}

func (s *PGStore) Insert(ctx context.Context, a *Auction) error {
	bids, err := json.Marshal(a.Bids)
	if err != nil {
		return fmt.Errorf("failed to encode bids: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auctions (`+pgColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,1)
		 ON CONFLICT (ref) DO NOTHING`,
		a.Ref, a.CouponRef, a.SellerRef, a.MerchantRef, a.Title, a.Description, a.Category,
		a.StartingPrice.String(), optDecimal(a.ReservePrice), a.CurrentBid.String(), optDecimal(a.BuyNowPrice),
		bids, a.TotalBids, a.HighestBidder, a.StartTime, a.EndTime, a.ExtendOnBid,
		int64(a.Extension/time.Second), string(a.Status), a.IsActive, a.IsSettled,
		a.Winner, optDecimal(a.FinalPrice), optTime(a.SettledAt), a.SettlementTxRef,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return err
	}

	// ON CONFLICT DO NOTHING reports zero rows for a duplicate ref; probe
	// to distinguish it from a successful insert.
	var version int
	if err := s.db.QueryRowContext(ctx,
		"SELECT version FROM auctions WHERE ref = $1", a.Ref).Scan(&version); err != nil {
		return err
	}
	if version != 1 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, a.Ref)
	}
	a.Version = 1
	return nil
}

func (s *PGStore) Get(ctx context.Context, ref string) (*Auction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+pgColumns+" FROM auctions WHERE ref = $1", ref)
	a, err := scanAuction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: auction %s", ErrNotFound, ref)
	}
	return a, err
}

func (s *PGStore) Update(ctx context.Context, a *Auction) error {
	bids, err := json.Marshal(a.Bids)
	if err != nil {
		return fmt.Errorf("failed to encode bids: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE auctions SET
			current_bid = $3, bids = $4, total_bids = $5, highest_bidder = $6,
			end_time = $7, status = $8, is_active = $9, is_settled = $10,
			winner = $11, final_price = $12, settled_at = $13,
			settlement_tx_ref = $14, updated_at = $15, version = version + 1
		 WHERE ref = $1 AND version = $2`,
		a.Ref, a.Version,
		a.CurrentBid.String(), bids, a.TotalBids, a.HighestBidder,
		a.EndTime, string(a.Status), a.IsActive, a.IsSettled,
		a.Winner, optDecimal(a.FinalPrice), optTime(a.SettledAt),
		a.SettlementTxRef, a.UpdatedAt,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the ref is gone or another writer advanced the version.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM auctions WHERE ref = $1)", a.Ref).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: auction %s", ErrNotFound, a.Ref)
		}
		return fmt.Errorf("%w: auction %s", ErrVersionConflict, a.Ref)
	}
	a.Version++
	return nil
}

func (s *PGStore) List(ctx context.Context, f Filter, page, limit int) ([]*Auction, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	where := "WHERE ($1 = '' OR status = $1) AND ($2 = '' OR category = $2) AND ($3 = '' OR seller_ref = $3)"
	args := []interface{}{string(f.Status), f.Category, f.SellerRef}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM auctions "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+pgColumns+" FROM auctions "+where+" ORDER BY created_at DESC LIMIT $4 OFFSET $5",
		append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	auctions := []*Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, 0, err
		}
		auctions = append(auctions, a)
	}
	return auctions, total, rows.Err()
}

func (s *PGStore) Due(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ref FROM auctions WHERE is_active AND end_time <= $1", now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*Auction, error) {
	var (
		a                 Auction
		startingPrice     string
		currentBid        string
		reservePrice      sql.NullString
		buyNowPrice       sql.NullString
		finalPrice        sql.NullString
		settledAt         sql.NullTime
		extensionSeconds  int64
		status            string
		bids              []byte
	)

	err := row.Scan(&a.Ref, &a.CouponRef, &a.SellerRef, &a.MerchantRef,
		&a.Title, &a.Description, &a.Category,
		&startingPrice, &reservePrice, &currentBid, &buyNowPrice,
		&bids, &a.TotalBids, &a.HighestBidder, &a.StartTime, &a.EndTime,
		&a.ExtendOnBid, &extensionSeconds, &status, &a.IsActive, &a.IsSettled,
		&a.Winner, &finalPrice, &settledAt, &a.SettlementTxRef,
		&a.CreatedAt, &a.UpdatedAt, &a.Version)
	if err != nil {
		return nil, err
	}

	if a.StartingPrice, err = decimal.NewFromString(startingPrice); err != nil {
		return nil, fmt.Errorf("bad starting_price for %s: %w", a.Ref, err)
	}
	if a.CurrentBid, err = decimal.NewFromString(currentBid); err != nil {
		return nil, fmt.Errorf("bad current_bid for %s: %w", a.Ref, err)
	}
	if a.ReservePrice, err = parseOptDecimal(reservePrice); err != nil {
		return nil, fmt.Errorf("bad reserve_price for %s: %w", a.Ref, err)
	}
	if a.BuyNowPrice, err = parseOptDecimal(buyNowPrice); err != nil {
		return nil, fmt.Errorf("bad buy_now_price for %s: %w", a.Ref, err)
	}
	if a.FinalPrice, err = parseOptDecimal(finalPrice); err != nil {
		return nil, fmt.Errorf("bad final_price for %s: %w", a.Ref, err)
	}
	if settledAt.Valid {
		t := settledAt.Time
		a.SettledAt = &t
	}
	a.Extension = time.Duration(extensionSeconds) * time.Second
	a.Status = Status(status)

	if err := json.Unmarshal(bids, &a.Bids); err != nil {
		return nil, fmt.Errorf("failed to decode bids for %s: %w", a.Ref, err)
	}
	return &a, nil
}

func optDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func optTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func parseOptDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
