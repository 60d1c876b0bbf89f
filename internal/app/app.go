// Package app assembles the pricing engine and token ledger from Config.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"gift-pricer/internal/cache"
	"gift-pricer/internal/config"
	"gift-pricer/internal/database"
	"gift-pricer/internal/ledger"
	"gift-pricer/internal/pricing"
	"gift-pricer/internal/services/backdrops"
	"gift-pricer/internal/services/exchange"
	"gift-pricer/internal/services/floors"
	"gift-pricer/internal/services/market"
	"gift-pricer/internal/services/snapshot"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// floorRequestsPerSecond paces the floor fanout against the upstream.
const floorRequestsPerSecond = 20

type Engine struct {
	Cache     *cache.Manager
	Rates     *exchange.Rates
	Floors    *floors.Refresher
	Backdrops *backdrops.Client
	Snapshot  *snapshot.Store
	Market    *market.Source
	Resolver  *pricing.Resolver
}

// NewEngine wires every price source. A missing snapshot file only disables
// the snapshot tier.
func NewEngine(cfg *config.Config) *Engine {
	c := cache.New()
	e := &Engine{Cache: c}

	e.Rates = exchange.NewRates(c,
		exchange.BinanceSource(cfg.ExchangePrimaryURL),
		exchange.CoinGeckoSource(cfg.ExchangeSecondaryURL),
		cfg.ExchangeDefaultRate,
		cfg.ExchangeTimeout,
	)

	creds := floors.NewCredentialProvider(cfg.FloorCredentialFile, c)
	fanout := floors.NewFanout(
		floors.NewClient(cfg.FloorAPIBase, cfg.UpstreamTimeout),
		cfg.FanoutWidth,
		rate.NewLimiter(rate.Limit(floorRequestsPerSecond), floorRequestsPerSecond),
	)
	e.Floors = floors.NewRefresher(fanout, creds, c, floors.PriorityModels)
	e.Backdrops = backdrops.NewClient(cfg.BackdropAPIBase, cfg.UpstreamTimeout, creds, c)

	var snap pricing.SnapshotSource
	var fallback market.Fallback
	if store, err := snapshot.Open(cfg.SnapshotDBPath); err != nil {
		log.Printf("[app] 快照数据库不可用，跳过快照定价: %v", err)
	} else {
		e.Snapshot = store
		snap = store
		fallback = store
	}

	e.Market = market.NewSource(market.NewClient(cfg.MarketAPIBase, cfg.UpstreamTimeout), c, fallback)

	e.Resolver = pricing.NewResolver(c, e.Rates, pricing.DefaultCascade(e.Floors, e.Backdrops, snap, e.Market)...)
	e.Resolver.SetWidth(cfg.FanoutWidth)
	return e
}

func (e *Engine) Close() {
	if e.Snapshot != nil {
		if err := e.Snapshot.Close(); err != nil {
			log.Printf("[app] 关闭快照数据库失败: %v", err)
		}
	}
}

// LedgerStore is the durable token store plus whatever must be closed with it.
type LedgerStore struct {
	ledger.Store
	closeFn func()
}

func (s *LedgerStore) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// OpenLedgerStore selects the durable backend named by cfg.LedgerStore.
func OpenLedgerStore(cfg *config.Config) (*LedgerStore, error) {
	switch cfg.LedgerStore {
	case "mysql":
		db, err := database.Initialize(cfg.DatabaseURL, cfg.IsDevelopment())
		if err != nil {
			return nil, err
		}
		return &LedgerStore{
			Store:   ledger.NewGormStore(db),
			closeFn: func() { database.Close(db) },
		}, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.RedisAddr, err)
		}
		return &LedgerStore{
			Store: ledger.NewRedisStore(rdb),
			closeFn: func() {
				if err := rdb.Close(); err != nil {
					log.Printf("[app] 关闭 redis 失败: %v", err)
				}
			},
		}, nil

	case "memory":
		log.Println("[app] ⚠️ 令牌仅保存在内存中，重启后失效")
		return &LedgerStore{Store: ledger.NewMemoryStore()}, nil
	}
	return nil, fmt.Errorf("unknown LEDGER_STORE %q", cfg.LedgerStore)
}
