// Package market reads whole-collection prices from the market-price service.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"gift-pricer/internal/cache"
	"gift-pricer/internal/models"
	"gift-pricer/internal/pricing"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

var ErrUpstream = errors.New("market upstream failure")

const listingKey = "listing"

type record struct {
	Name           string      `json:"name"`
	PriceTon       interface{} `json:"priceTon"`
	PriceUsd       interface{} `json:"priceUsd"`
	TonPrice24hAgo interface{} `json:"tonPrice24hAgo"`
	UsdPrice24hAgo interface{} `json:"usdPrice24hAgo"`
	Supply         interface{} `json:"supply"`
	UpgradedSupply interface{} `json:"upgradedSupply"`
}

// Collection is one market listing with its derived figures.
type Collection struct {
	Name           string   `json:"name"`
	PriceTon       float64  `json:"price_ton"`
	PriceUsd       float64  `json:"price_usd"`
	Change24hTon   *float64 `json:"change_24h_ton_pct,omitempty"`
	Change24hUsd   *float64 `json:"change_24h_usd_pct,omitempty"`
	Supply         float64  `json:"supply"`
	UpgradedSupply float64  `json:"upgraded_supply"`
	MarketCapTon   float64  `json:"market_cap_ton"`
	MarketCapUsd   float64  `json:"market_cap_usd"`
}

type Client struct {
	baseURL string
	client  *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json, text/plain, */*")
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Collections fetches the full listing. Records without a name are skipped.
func (c *Client) Collections(ctx context.Context) ([]Collection, error) {
	resp, err := c.client.R().SetContext(ctx).Get(c.baseURL + "/gifts")
	if err != nil {
		return nil, fmt.Errorf("market listing: %v: %w", err, ErrUpstream)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("market listing: HTTP %d: %w", resp.StatusCode(), ErrUpstream)
	}

	var records []record
	if err := json.Unmarshal(resp.Body(), &records); err != nil {
		return nil, fmt.Errorf("market listing: decode: %v: %w", err, ErrUpstream)
	}

	out := make([]Collection, 0, len(records))
	for _, r := range records {
		if r.Name == "" {
			continue
		}
		out = append(out, r.derive())
	}
	return out, nil
}

func (r record) derive() Collection {
	ton := number(r.PriceTon)
	usd := number(r.PriceUsd)
	upgraded := number(r.UpgradedSupply)
	supply := number(r.Supply)
	if supply == 0 {
		supply = upgraded
	}
	return Collection{
		Name:           r.Name,
		PriceTon:       ton,
		PriceUsd:       usd,
		Change24hTon:   percentChange(ton, number(r.TonPrice24hAgo)),
		Change24hUsd:   percentChange(usd, number(r.UsdPrice24hAgo)),
		Supply:         supply,
		UpgradedSupply: upgraded,
		MarketCapTon:   ton * upgraded,
		MarketCapUsd:   usd * upgraded,
	}
}

func number(raw interface{}) float64 {
	v, _ := models.ParseAmount(raw)
	return v
}

func percentChange(now, before float64) *float64 {
	if before == 0 {
		return nil
	}
	pct, _ := decimal.NewFromFloat((now - before) / before * 100).Round(2).Float64()
	return &pct
}

// Fallback supplies a stored price when the live listing has none.
type Fallback interface {
	MarketPrice(ctx context.Context, name string) (float64, bool)
}

// Source answers whole-collection price lookups from the cached listing.
type Source struct {
	client   *Client
	cache    *cache.Manager
	fallback Fallback
}

// NewSource wires the listing cache. fallback may be nil.
func NewSource(client *Client, c *cache.Manager, fallback Fallback) *Source {
	return &Source{client: client, cache: c, fallback: fallback}
}

func (s *Source) listing(ctx context.Context) map[string]Collection {
	if l, ok := cache.Lookup[map[string]Collection](s.cache, cache.ClassMarket, listingKey); ok {
		return l
	}
	if s.client != nil {
		collections, err := s.client.Collections(ctx)
		if err == nil {
			l := make(map[string]Collection, len(collections)*2)
			for _, c := range collections {
				l[c.Name] = c
				if k := pricing.Normalize(c.Name); k != "" {
					if _, taken := l[k]; !taken {
						l[k] = c
					}
				}
			}
			s.cache.Set(cache.ClassMarket, listingKey, l)
			return l
		}
		log.Printf("[market] %v", err)
	}
	l, _ := cache.LookupStale[map[string]Collection](s.cache, cache.ClassMarket, listingKey)
	return l
}

// Collections returns the current listing, possibly stale, for the API.
func (s *Source) Collections(ctx context.Context) []Collection {
	l := s.listing(ctx)
	seen := make(map[string]bool, len(l))
	out := make([]Collection, 0, len(l))
	for _, c := range l {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CollectionPrice returns the latest TON price of a whole collection.
func (s *Source) CollectionPrice(ctx context.Context, name string) (float64, bool) {
	if name == "" {
		return 0, false
	}
	l := s.listing(ctx)
	if c, ok := l[name]; ok && c.PriceTon > 0 {
		return c.PriceTon, true
	}
	if c, ok := l[pricing.Normalize(name)]; ok && c.PriceTon > 0 {
		return c.PriceTon, true
	}
	if s.fallback != nil {
		return s.fallback.MarketPrice(ctx, name)
	}
	return 0, false
}
