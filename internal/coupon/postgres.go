package coupon

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS coupons (
	ref                 TEXT PRIMARY KEY,
	nft_mint            TEXT NOT NULL DEFAULT '',
	promotion_ref       TEXT NOT NULL DEFAULT '',
	owner               TEXT NOT NULL,
	merchant_ref        TEXT NOT NULL DEFAULT '',
	discount_percentage INT NOT NULL DEFAULT 0,
	expiry_timestamp    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	is_redeemed         BOOLEAN NOT NULL DEFAULT FALSE,
	is_listed           BOOLEAN NOT NULL DEFAULT FALSE,
	transfers           JSONB NOT NULL DEFAULT '[]',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PGRepository is a Postgres-backed Repository. One row per coupon;
// provenance history is an embedded JSONB array.
type PGRepository struct {
	db *sql.DB
}

func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

// EnsureSchema creates the coupons table if it does not exist.
func (r *PGRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, pgSchema)
	return err
}

func (r *PGRepository) FindByRef(ctx context.Context, ref string) (*Coupon, error) {
	var c Coupon
	var transfers []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT ref, nft_mint, promotion_ref, owner, merchant_ref, discount_percentage,
		        expiry_timestamp, is_redeemed, is_listed, transfers, created_at
		 FROM coupons WHERE ref = $1`,
		ref,
	).Scan(&c.Ref, &c.NFTMint, &c.PromotionRef, &c.Owner, &c.MerchantRef,
		&c.DiscountPercentage, &c.ExpiryTimestamp, &c.IsRedeemed, &c.IsListed,
		&transfers, &c.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(transfers, &c.Transfers); err != nil {
		return nil, fmt.Errorf("failed to decode transfer history: %w", err)
	}
	return &c, nil
}

func (r *PGRepository) MarkListed(ctx context.Context, ref string, listed bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE coupons SET is_listed = $2 WHERE ref = $1", ref, listed)
	if err != nil {
		return err
	}
	return checkFound(res, ref)
}

func (r *PGRepository) TransferOwnership(ctx context.Context, ref, newOwner string, t Transfer) error {
	entry, err := json.Marshal([]Transfer{t})
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE coupons
		 SET owner = $2, is_listed = FALSE, transfers = transfers || $3::jsonb
		 WHERE ref = $1`,
		ref, newOwner, entry)
	if err != nil {
		return err
	}
	return checkFound(res, ref)
}

func checkFound(res sql.Result, ref string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return nil
}
