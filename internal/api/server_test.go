package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/couponauction/internal/auction"
	"github.com/terminal-bench/couponauction/internal/chain"
	"github.com/terminal-bench/couponauction/internal/coupon"
)

const testSecret = "test-secret"

type chainStub struct {
	mu    sync.Mutex
	count int
}

func (s *chainStub) next(prefix string) *chain.SubmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return &chain.SubmitResult{
		TxRef:      fmt.Sprintf("tx-%s-%d", prefix, s.count),
		OnChainRef: fmt.Sprintf("auction-%d", s.count),
	}
}

func (s *chainStub) SubmitCreateAuction(ctx context.Context, req chain.CreateRequest) (*chain.SubmitResult, error) {
	return s.next("create"), nil
}

func (s *chainStub) SubmitBid(ctx context.Context, auctionRef, bidderRef string, amount decimal.Decimal) (*chain.SubmitResult, error) {
	r := s.next("bid")
	r.OnChainRef = auctionRef
	return r, nil
}

func (s *chainStub) SubmitSettle(ctx context.Context, auctionRef string) (*chain.SubmitResult, error) {
	r := s.next("settle")
	r.OnChainRef = auctionRef
	return r, nil
}

type testEnv struct {
	server  *Server
	store   *auction.MemoryStore
	coupons *coupon.MemoryRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := auction.NewMemoryStore()
	coupons := coupon.NewMemoryRepository()
	stub := &chainStub{}

	core := auction.NewCore(store, coupons, stub)
	ledger := auction.NewLedger(store, stub)
	settlement := auction.NewSettlement(store, coupons, stub)

	server := NewServer(Config{JWTSecret: testSecret}, core, ledger, settlement, nil, nil)
	return &testEnv{server: server, store: store, coupons: coupons}
}

func (e *testEnv) seedCoupon(ref, owner string) {
	e.coupons.Put(&coupon.Coupon{
		Ref:         ref,
		NFTMint:     "mint-" + ref,
		Owner:       owner,
		MerchantRef: "merchant-1",
	})
}

func (e *testEnv) request(t *testing.T, method, path, wallet string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		token, err := IssueToken(testSecret, wallet, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) createAuction(t *testing.T, wallet, couponRef string) string {
	t.Helper()
	w := e.request(t, http.MethodPost, "/api/v1/auctions", wallet, gin.H{
		"coupon_ref":       couponRef,
		"title":            "20% off espresso",
		"starting_price":   "100",
		"duration_seconds": 3600,
		"extend_on_bid":    true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Ref string `json:"ref"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Ref)
	return resp.Data.Ref
}

func TestCreateAuctionEndpoint(t *testing.T) {
	t.Run("creates an auction for the authenticated wallet", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-a")

		ref := env.createAuction(t, "wallet-a", "coupon-1")

		a, err := env.store.Get(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, "wallet-a", a.SellerRef)
		assert.Equal(t, auction.StatusActive, a.Status)
	})

	t.Run("requires authentication", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.request(t, http.MethodPost, "/api/v1/auctions", "", gin.H{})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a garbage token", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auctions", bytes.NewBufferString("{}"))
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing fields are a 400", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.request(t, http.MethodPost, "/api/v1/auctions", "wallet-a", gin.H{
			"coupon_ref": "coupon-1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown coupon is a 404", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.request(t, http.MethodPost, "/api/v1/auctions", "wallet-a", gin.H{
			"coupon_ref":       "ghost",
			"title":            "x",
			"starting_price":   "100",
			"duration_seconds": 3600,
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("not the coupon owner is a 403", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-b")
		w := env.request(t, http.MethodPost, "/api/v1/auctions", "wallet-a", gin.H{
			"coupon_ref":       "coupon-1",
			"title":            "x",
			"starting_price":   "100",
			"duration_seconds": 3600,
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestPlaceBidEndpoint(t *testing.T) {
	t.Run("accepted bid", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-a")
		ref := env.createAuction(t, "wallet-a", "coupon-1")

		w := env.request(t, http.MethodPost, "/api/v1/auctions/"+ref+"/bids", "wallet-b", gin.H{"amount": "120"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		a, err := env.store.Get(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, "wallet-b", a.HighestBidder)
	})

	t.Run("low bid is a 409", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-a")
		ref := env.createAuction(t, "wallet-a", "coupon-1")

		w := env.request(t, http.MethodPost, "/api/v1/auctions/"+ref+"/bids", "wallet-b", gin.H{"amount": "100"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("seller bidding is a 403", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-a")
		ref := env.createAuction(t, "wallet-a", "coupon-1")

		w := env.request(t, http.MethodPost, "/api/v1/auctions/"+ref+"/bids", "wallet-a", gin.H{"amount": "120"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("expired auction is a 410", func(t *testing.T) {
		env := newTestEnv(t)
		seedExpired(t, env.store, "a-exp")

		w := env.request(t, http.MethodPost, "/api/v1/auctions/a-exp/bids", "wallet-b", gin.H{"amount": "120"})
		assert.Equal(t, http.StatusGone, w.Code)
	})

	t.Run("unknown auction is a 404", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.request(t, http.MethodPost, "/api/v1/auctions/ghost/bids", "wallet-b", gin.H{"amount": "120"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSettleEndpoint(t *testing.T) {
	t.Run("any caller settles an expired auction, repeatably", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-exp", "seller-1")
		a := seedExpired(t, env.store, "a-exp")
		a.MarkWinner(auction.Bid{BidderRef: "wallet-b", Amount: decimal.NewFromInt(120), Timestamp: a.StartTime})
		require.NoError(t, env.store.Update(context.Background(), a))

		first := env.request(t, http.MethodPost, "/api/v1/auctions/a-exp/settle", "", nil)
		require.Equal(t, http.StatusOK, first.Code, first.Body.String())

		second := env.request(t, http.MethodPost, "/api/v1/auctions/a-exp/settle", "", nil)
		require.Equal(t, http.StatusOK, second.Code)

		var resp struct {
			Data struct {
				Winner string `json:"winner"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
		assert.Equal(t, "wallet-b", resp.Data.Winner)

		cpn, err := env.coupons.FindByRef(context.Background(), "coupon-exp")
		require.NoError(t, err)
		assert.Equal(t, "wallet-b", cpn.Owner)
		assert.Len(t, cpn.Transfers, 1)
	})

	t.Run("settling a live auction is a 410", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-a")
		ref := env.createAuction(t, "wallet-a", "coupon-1")

		w := env.request(t, http.MethodPost, "/api/v1/auctions/"+ref+"/settle", "", nil)
		assert.Equal(t, http.StatusGone, w.Code)
	})
}

func TestCancelEndpoint(t *testing.T) {
	t.Run("seller cancels", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-a")
		ref := env.createAuction(t, "wallet-a", "coupon-1")

		w := env.request(t, http.MethodDelete, "/api/v1/auctions/"+ref, "wallet-a", nil)
		require.Equal(t, http.StatusOK, w.Code)

		a, err := env.store.Get(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, auction.StatusCancelled, a.Status)
	})

	t.Run("non-seller is a 403", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-a")
		ref := env.createAuction(t, "wallet-a", "coupon-1")

		w := env.request(t, http.MethodDelete, "/api/v1/auctions/"+ref, "wallet-b", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestReadEndpoints(t *testing.T) {
	t.Run("get returns the auction", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-a")
		ref := env.createAuction(t, "wallet-a", "coupon-1")

		w := env.request(t, http.MethodGet, "/api/v1/auctions/"+ref, "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data auction.Auction `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ref, resp.Data.Ref)
	})

	t.Run("get of a missing auction is a 404", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.request(t, http.MethodGet, "/api/v1/auctions/ghost", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list filters by seller", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedCoupon("coupon-1", "wallet-a")
		env.seedCoupon("coupon-2", "wallet-b")
		env.createAuction(t, "wallet-a", "coupon-1")
		env.createAuction(t, "wallet-b", "coupon-2")

		w := env.request(t, http.MethodGet, "/api/v1/auctions?seller=wallet-a", "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data struct {
				Auctions []auction.Auction `json:"auctions"`
			} `json:"data"`
			Pagination struct {
				Total int `json:"total"`
			} `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Pagination.Total)
		require.Len(t, resp.Data.Auctions, 1)
		assert.Equal(t, "wallet-a", resp.Data.Auctions[0].SellerRef)
	})

	t.Run("health", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.request(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

// seedExpired inserts an active auction whose end time has already passed.
func seedExpired(t *testing.T, store *auction.MemoryStore, ref string) *auction.Auction {
	t.Helper()
	now := time.Now()
	a := &auction.Auction{
		Ref:           ref,
		CouponRef:     "coupon-exp",
		SellerRef:     "seller-1",
		MerchantRef:   "merchant-1",
		Title:         "expired",
		Category:      "general",
		StartingPrice: decimal.NewFromInt(100),
		CurrentBid:    decimal.NewFromInt(100),
		Bids:          []auction.Bid{},
		StartTime:     now.Add(-2 * time.Hour),
		EndTime:       now.Add(-time.Hour),
		ExtendOnBid:   true,
		Extension:     5 * time.Minute,
		Status:        auction.StatusActive,
		IsActive:      true,
		CreatedAt:     now.Add(-2 * time.Hour),
		UpdatedAt:     now.Add(-2 * time.Hour),
	}
	require.NoError(t, store.Insert(context.Background(), a))
	return a
}
