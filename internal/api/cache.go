package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/terminal-bench/couponauction/internal/auction"
)

// Cache is a Redis read-through cache for auction detail reads. The store
// stays authoritative; entries carry a short TTL and are invalidated on
// every mutation, so a stale read window is bounded by the TTL even if an
// invalidation is lost.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(redisURL string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisURL})
	return &Cache{rdb: rdb, ttl: ttl}
}

func auctionKey(ref string) string {
	return "auction:" + ref
}

// GetAuction returns the cached auction, if any.
func (c *Cache) GetAuction(ctx context.Context, ref string) (*auction.Auction, bool) {
	payload, err := c.rdb.Get(ctx, auctionKey(ref)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("cache: get %s: %v", ref, err)
		return nil, false
	}

	var a auction.Auction
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		log.Printf("cache: undecodable entry for %s: %v", ref, err)
		c.Invalidate(ctx, ref)
		return nil, false
	}
	return &a, true
}

// SetAuction stores the auction under its ref.
func (c *Cache) SetAuction(ctx context.Context, a *auction.Auction) {
	payload, err := json.Marshal(a)
	if err != nil {
		log.Printf("cache: failed to marshal auction %s: %v", a.Ref, err)
		return
	}
	if err := c.rdb.Set(ctx, auctionKey(a.Ref), payload, c.ttl).Err(); err != nil {
		log.Printf("cache: set %s: %v", a.Ref, err)
	}
}

// Invalidate drops the cached entry for ref.
func (c *Cache) Invalidate(ctx context.Context, ref string) {
	if err := c.rdb.Del(ctx, auctionKey(ref)).Err(); err != nil {
		log.Printf("cache: invalidate %s: %v", ref, err)
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
