package auction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/couponauction/internal/coupon"
)

func newTestCore(t *testing.T) (*Core, *MemoryStore, *countingCoupons, *chainStub) {
	t.Helper()
	store := NewMemoryStore()
	coupons := newCountingCoupons()
	stub := &chainStub{}
	core := NewCore(store, coupons, stub)
	core.now = fixedClock(testBase)
	return core, store, coupons, stub
}

func validCreateParams() CreateParams {
	return CreateParams{
		CouponRef:     "coupon-1",
		SellerRef:     "seller-1",
		Title:         "20% off espresso",
		Category:      "food",
		StartingPrice: dec("100"),
		Duration:      time.Hour,
		ExtendOnBid:   true,
		Extension:     5 * time.Minute,
	}
}

func TestCreateAuction(t *testing.T) {
	ctx := context.Background()

	t.Run("creates active auction and marks coupon listed", func(t *testing.T) {
		core, store, coupons, stub := newTestCore(t)
		seedCoupon(coupons, "coupon-1", "seller-1")

		res, err := core.Create(ctx, validCreateParams())
		require.NoError(t, err)
		require.NotEmpty(t, res.Ref)
		assert.Equal(t, testBase.Add(time.Hour), res.EndTime)
		assert.NotEmpty(t, res.TxRef)
		assert.Equal(t, 1, stub.creates)

		a, err := store.Get(ctx, res.Ref)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, a.Status)
		assert.True(t, a.IsActive)
		assert.Equal(t, "seller-1", a.SellerRef)
		assert.Equal(t, "merchant-1", a.MerchantRef)
		assert.True(t, a.CurrentBid.Equal(dec("100")))
		assert.Empty(t, a.Bids)

		cpn, err := coupons.FindByRef(ctx, "coupon-1")
		require.NoError(t, err)
		assert.True(t, cpn.IsListed)
	})

	t.Run("validation failures short-circuit before any side effect", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*CreateParams)
		}{
			{"missing coupon ref", func(p *CreateParams) { p.CouponRef = "" }},
			{"missing seller ref", func(p *CreateParams) { p.SellerRef = "" }},
			{"missing title", func(p *CreateParams) { p.Title = "" }},
			{"zero starting price", func(p *CreateParams) { p.StartingPrice = dec("0") }},
			{"negative starting price", func(p *CreateParams) { p.StartingPrice = dec("-5") }},
			{"zero reserve price", func(p *CreateParams) { p.ReservePrice = decPtr("0") }},
			{"zero buy-now price", func(p *CreateParams) { p.BuyNowPrice = decPtr("0") }},
			{"zero duration", func(p *CreateParams) { p.Duration = 0 }},
			{"zero extension", func(p *CreateParams) { p.Extension = 0 }},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				core, _, coupons, stub := newTestCore(t)
				seedCoupon(coupons, "coupon-1", "seller-1")

				p := validCreateParams()
				tc.mutate(&p)

				_, err := core.Create(ctx, p)
				require.ErrorIs(t, err, ErrValidation)
				assert.Equal(t, 0, stub.creates)

				cpn, err := coupons.FindByRef(ctx, "coupon-1")
				require.NoError(t, err)
				assert.False(t, cpn.IsListed)
			})
		}
	})

	t.Run("unknown coupon", func(t *testing.T) {
		core, _, _, _ := newTestCore(t)
		_, err := core.Create(ctx, validCreateParams())
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("caller does not own the coupon", func(t *testing.T) {
		core, _, coupons, stub := newTestCore(t)
		seedCoupon(coupons, "coupon-1", "someone-else")

		_, err := core.Create(ctx, validCreateParams())
		require.ErrorIs(t, err, ErrForbidden)
		assert.Equal(t, 0, stub.creates)
	})

	t.Run("redeemed coupon is rejected", func(t *testing.T) {
		core, _, coupons, _ := newTestCore(t)
		seedCoupon(coupons, "coupon-1", "seller-1")
		coupons.Put(&coupon.Coupon{Ref: "coupon-1", Owner: "seller-1", MerchantRef: "merchant-1", IsRedeemed: true})

		_, err := core.Create(ctx, validCreateParams())
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("already-listed coupon is rejected", func(t *testing.T) {
		core, _, coupons, _ := newTestCore(t)
		seedCoupon(coupons, "coupon-1", "seller-1")
		require.NoError(t, coupons.MarkListed(ctx, "coupon-1", true))

		_, err := core.Create(ctx, validCreateParams())
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("empty category defaults to general", func(t *testing.T) {
		core, store, coupons, _ := newTestCore(t)
		seedCoupon(coupons, "coupon-1", "seller-1")

		p := validCreateParams()
		p.Category = ""
		res, err := core.Create(ctx, p)
		require.NoError(t, err)

		a, err := store.Get(ctx, res.Ref)
		require.NoError(t, err)
		assert.Equal(t, "general", a.Category)
	})
}

func TestCancelAuction(t *testing.T) {
	ctx := context.Background()

	t.Run("seller cancels an unbid auction", func(t *testing.T) {
		core, store, coupons, _ := newTestCore(t)
		seedCoupon(coupons, "coupon-a1", "seller-1")
		require.NoError(t, coupons.MarkListed(ctx, "coupon-a1", true))
		newActiveAuction(store, "a1", "seller-1")

		require.NoError(t, core.Cancel(ctx, "a1", "seller-1"))

		a, err := store.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, a.Status)
		assert.False(t, a.IsActive)

		cpn, err := coupons.FindByRef(ctx, "coupon-a1")
		require.NoError(t, err)
		assert.False(t, cpn.IsListed)
	})

	t.Run("only the seller may cancel", func(t *testing.T) {
		core, store, _, _ := newTestCore(t)
		newActiveAuction(store, "a1", "seller-1")

		err := core.Cancel(ctx, "a1", "intruder")
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("cannot cancel once a bid exists", func(t *testing.T) {
		core, store, _, _ := newTestCore(t)
		a := newActiveAuction(store, "a1", "seller-1")
		a.MarkWinner(Bid{BidderRef: "bidder-1", Amount: dec("110"), Timestamp: testBase})
		require.NoError(t, store.Update(ctx, a))

		err := core.Cancel(ctx, "a1", "seller-1")
		require.ErrorIs(t, err, ErrConflict)

		got, err := store.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, got.Status)
	})

	t.Run("cancel is rejected on a terminal auction", func(t *testing.T) {
		core, store, _, _ := newTestCore(t)
		a := newActiveAuction(store, "a1", "seller-1")
		a.Status = StatusSettled
		a.IsActive = false
		a.IsSettled = true
		require.NoError(t, store.Update(ctx, a))

		err := core.Cancel(ctx, "a1", "seller-1")
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("unknown auction", func(t *testing.T) {
		core, _, _, _ := newTestCore(t)
		err := core.Cancel(ctx, "nope", "seller-1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListAuctions(t *testing.T) {
	ctx := context.Background()
	core, store, _, _ := newTestCore(t)

	for i := 0; i < 5; i++ {
		a := newActiveAuction(store, refN("a", i), "seller-1")
		a.CreatedAt = testBase.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Update(ctx, a))
	}
	b := newActiveAuction(store, "b1", "seller-2")
	b.Category = "travel"
	require.NoError(t, store.Update(ctx, b))

	t.Run("newest first with pagination", func(t *testing.T) {
		page, err := core.List(ctx, Filter{SellerRef: "seller-1"}, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.Equal(t, 3, page.TotalPages)
		require.Len(t, page.Items, 2)
		assert.Equal(t, "a4", page.Items[0].Ref)
		assert.Equal(t, "a3", page.Items[1].Ref)
	})

	t.Run("category filter", func(t *testing.T) {
		page, err := core.List(ctx, Filter{Category: "travel"}, 1, 20)
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "b1", page.Items[0].Ref)
	})

	t.Run("out-of-range page is empty", func(t *testing.T) {
		page, err := core.List(ctx, Filter{}, 10, 20)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Equal(t, 6, page.Total)
	})

	t.Run("invalid paging falls back to defaults", func(t *testing.T) {
		page, err := core.List(ctx, Filter{}, 0, 500)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 20, page.Limit)
	})
}

func refN(prefix string, i int) string {
	return prefix + string(rune('0'+i))
}
