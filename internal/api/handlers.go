package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/terminal-bench/couponauction/internal/auction"
)

type createAuctionRequest struct {
	CouponRef        string `json:"coupon_ref" binding:"required"`
	Title            string `json:"title" binding:"required"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	StartingPrice    string `json:"starting_price" binding:"required"`
	ReservePrice     string `json:"reserve_price"`
	BuyNowPrice      string `json:"buy_now_price"`
	DurationSeconds  int64  `json:"duration_seconds" binding:"required"`
	ExtendOnBid      bool   `json:"extend_on_bid"`
	ExtensionSeconds int64  `json:"extension_seconds"`
}

func (s *Server) createAuction(c *gin.Context) {
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request: " + err.Error()})
		return
	}

	startingPrice, err := decimal.NewFromString(req.StartingPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid starting_price"})
		return
	}
	reservePrice, err := optPrice(req.ReservePrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid reserve_price"})
		return
	}
	buyNowPrice, err := optPrice(req.BuyNowPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid buy_now_price"})
		return
	}

	extension := req.ExtensionSeconds
	if extension == 0 {
		extension = 300
	}

	result, err := s.core.Create(c.Request.Context(), auction.CreateParams{
		CouponRef:     req.CouponRef,
		SellerRef:     c.GetString(ctxWallet),
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		StartingPrice: startingPrice,
		ReservePrice:  reservePrice,
		BuyNowPrice:   buyNowPrice,
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
		ExtendOnBid:   req.ExtendOnBid,
		Extension:     time.Duration(extension) * time.Second,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": result})
}

type placeBidRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (s *Server) placeBid(c *gin.Context) {
	ref := c.Param("ref")

	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request: " + err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid amount"})
		return
	}

	result, err := s.ledger.PlaceBid(c.Request.Context(), ref, c.GetString(ctxWallet), amount)
	if err != nil {
		writeError(c, err)
		return
	}

	s.invalidate(c, ref)
	s.broadcast(Update{
		Type:       "bid_placed",
		AuctionRef: ref,
		CurrentBid: result.CurrentBid.String(),
		TotalBids:  result.TotalBids,
		EndTime:    result.EndTime,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (s *Server) settleAuction(c *gin.Context) {
	ref := c.Param("ref")

	result, err := s.settlement.Settle(c.Request.Context(), ref)
	if err != nil {
		writeError(c, err)
		return
	}

	s.invalidate(c, ref)
	update := Update{Type: "settled", AuctionRef: ref, Winner: result.Winner}
	if result.FinalPrice != nil {
		update.CurrentBid = result.FinalPrice.String()
	}
	s.broadcast(update)

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (s *Server) cancelAuction(c *gin.Context) {
	ref := c.Param("ref")

	if err := s.core.Cancel(c.Request.Context(), ref, c.GetString(ctxWallet)); err != nil {
		writeError(c, err)
		return
	}

	s.invalidate(c, ref)
	s.broadcast(Update{Type: "cancelled", AuctionRef: ref})

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) listAuctions(c *gin.Context) {
	var page, limit int
	fmt.Sscan(c.DefaultQuery("page", "1"), &page)
	fmt.Sscan(c.DefaultQuery("limit", "20"), &limit)

	result, err := s.core.List(c.Request.Context(), auction.Filter{
		Status:    auction.Status(c.Query("status")),
		Category:  c.Query("category"),
		SellerRef: c.Query("seller"),
	}, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"auctions": result.Items},
		"pagination": gin.H{
			"page":        result.Page,
			"limit":       result.Limit,
			"total":       result.Total,
			"total_pages": result.TotalPages,
		},
	})
}

func (s *Server) getAuction(c *gin.Context) {
	ref := c.Param("ref")

	if s.cache != nil {
		if a, ok := s.cache.GetAuction(c.Request.Context(), ref); ok {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": a})
			return
		}
	}

	a, err := s.core.Get(c.Request.Context(), ref)
	if err != nil {
		writeError(c, err)
		return
	}

	if s.cache != nil {
		s.cache.SetAuction(c.Request.Context(), a)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": a})
}

func (s *Server) invalidate(c *gin.Context, ref string) {
	if s.cache != nil {
		s.cache.Invalidate(c.Request.Context(), ref)
	}
}

func (s *Server) broadcast(u Update) {
	if s.hub != nil {
		s.hub.Broadcast(u)
	}
}

func optPrice(v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
