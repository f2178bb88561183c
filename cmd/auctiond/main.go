package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/couponauction/internal/analytics"
	"github.com/terminal-bench/couponauction/internal/api"
	"github.com/terminal-bench/couponauction/internal/auction"
	"github.com/terminal-bench/couponauction/internal/chain"
	"github.com/terminal-bench/couponauction/internal/coupon"
	"github.com/terminal-bench/couponauction/internal/reconciler"
	"github.com/terminal-bench/couponauction/internal/sweep"
	"github.com/terminal-bench/couponauction/pkg/messaging"
)

func main() {
	port := getenv("PORT", "8080")
	jwtSecret := getenv("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Println("JWT_SECRET not set, using development default")
		jwtSecret = "dev-secret"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when configured, in-memory otherwise.
	var (
		store   auction.Store
		coupons coupon.Repository
	)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		pgStore := auction.NewPGStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure auction schema: %v", err)
		}
		pgCoupons := coupon.NewPGRepository(db)
		if err := pgCoupons.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure coupon schema: %v", err)
		}
		store, coupons = pgStore, pgCoupons
	} else {
		log.Println("DATABASE_URL not set, using in-memory storage")
		store, coupons = auction.NewMemoryStore(), coupon.NewMemoryRepository()
	}

	// Event feed transport.
	var msgClient *messaging.Client
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		var err error
		msgClient, err = messaging.NewClient(messaging.Config{
			URL:           natsURL,
			Name:          "auctiond",
			ReconnectWait: time.Second,
			MaxReconnects: 10,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer msgClient.Close()
	} else {
		log.Println("NATS_URL not set, event reconciliation disabled")
	}

	chainClient := chain.NewSimulator(msgClient)

	core := auction.NewCore(store, coupons, chainClient)
	ledger := auction.NewLedger(store, chainClient)
	settlement := auction.NewSettlement(store, coupons, chainClient)

	var cache *api.Cache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache = api.NewCache(redisURL, 10*time.Second)
		defer cache.Close()
	}

	hub := api.NewHub()
	server := api.NewServer(api.Config{JWTSecret: jwtSecret}, core, ledger, settlement, hub, cache)

	if msgClient != nil {
		dispatcher := reconciler.NewDispatcher(msgClient,
			reconciler.NewReconciler(store, coupons, nil),
			reconciler.DispatcherConfig{})
		if err := dispatcher.Start(ctx); err != nil {
			log.Fatalf("Failed to start event dispatcher: %v", err)
		}
		defer dispatcher.Stop()

		if influxURL := os.Getenv("INFLUXDB_URL"); influxURL != "" {
			recorder := analytics.NewRecorder(analytics.Config{
				URL:    influxURL,
				Token:  os.Getenv("INFLUXDB_TOKEN"),
				Org:    os.Getenv("INFLUXDB_ORG"),
				Bucket: os.Getenv("INFLUXDB_BUCKET"),
			}, msgClient)
			if err := recorder.Start(ctx); err != nil {
				log.Fatalf("Failed to start bid recorder: %v", err)
			}
			defer recorder.Close()
		}
	}

	sweepInterval := 30 * time.Second
	if v := os.Getenv("SWEEP_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			sweepInterval = time.Duration(secs) * time.Second
		}
	}
	sweeper := auction.NewSweeper(settlement, store, sweepInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("auctiond listening on :%s", port)
		return server.Start(":" + port)
	})

	g.Go(func() error {
		if endpoints := os.Getenv("ETCD_ENDPOINTS"); endpoints != "" {
			elector, err := sweep.NewElector(strings.Split(endpoints, ","))
			if err != nil {
				return err
			}
			defer elector.Close()

			return elector.RunWhenLeader(gctx, func(leaderCtx context.Context) {
				sweeper.Start(leaderCtx)
				<-leaderCtx.Done()
				sweeper.Stop()
			})
		}

		sweeper.Start(gctx)
		<-gctx.Done()
		sweeper.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("auctiond exited: %v", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
