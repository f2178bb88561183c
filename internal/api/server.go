// Package api is the HTTP surface of the auction engine.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/terminal-bench/couponauction/internal/auction"
	"github.com/terminal-bench/couponauction/internal/coupon"
)

// Server wires the gin router to the auction engine.
type Server struct {
	router     *gin.Engine
	core       *auction.Core
	ledger     *auction.Ledger
	settlement *auction.Settlement
	hub        *Hub
	cache      *Cache
	jwtSecret  string
}

// Config holds server configuration.
type Config struct {
	JWTSecret string
}

// NewServer builds the router. hub and cache may be nil.
func NewServer(cfg Config, core *auction.Core, ledger *auction.Ledger, settlement *auction.Settlement, hub *Hub, cache *Cache) *Server {
	s := &Server{
		router:     gin.Default(),
		core:       core,
		ledger:     ledger,
		settlement: settlement,
		hub:        hub,
		cache:      cache,
		jwtSecret:  cfg.JWTSecret,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auctions", s.authMiddleware(), s.createAuction)
		v1.POST("/auctions/:ref/bids", s.authMiddleware(), s.placeBid)
		// Settlement is idempotent and time-gated, so any caller may
		// trigger it once the auction has expired.
		v1.POST("/auctions/:ref/settle", s.settleAuction)
		v1.DELETE("/auctions/:ref", s.authMiddleware(), s.cancelAuction)
		v1.GET("/auctions", s.listAuctions)
		v1.GET("/auctions/:ref", s.getAuction)
		v1.GET("/ws", s.handleWebSocket)
	}
}

// Router exposes the underlying engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auction.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, auction.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, auction.ErrNotFound), errors.Is(err, coupon.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auction.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, auction.ErrExpired):
		status = http.StatusGone
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}
