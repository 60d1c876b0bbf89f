// Package pricing turns a collectible's attributes into a quote by walking an
// ordered cascade of price sources, then applying the serial-number overlay
// and the exchange rate.
package pricing

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"gift-pricer/internal/cache"
	"gift-pricer/internal/models"

	"github.com/shopspring/decimal"
)

const (
	BaseCurrency = "TON"
	TierDefault  = "default"

	defaultWidth = 15
)

// RateSource converts TON to USD.
type RateSource interface {
	Rate(ctx context.Context) float64
}

type Resolver struct {
	tiers []Strategy
	rates RateSource
	cache *cache.Manager
	width int
}

// NewResolver builds a resolver over the given tiers, tried in order.
func NewResolver(c *cache.Manager, rates RateSource, tiers ...Strategy) *Resolver {
	return &Resolver{tiers: tiers, rates: rates, cache: c, width: defaultWidth}
}

// SetWidth bounds how many items ResolveMany prices at once.
func (r *Resolver) SetWidth(n int) {
	if n > 0 {
		r.width = n
	}
}

// Price runs the cascade for one query. The first tier to report a positive
// price wins; when none does the price is 0 from the default tier.
func (r *Resolver) Price(ctx context.Context, q Query) (float64, string) {
	for _, tier := range r.tiers {
		v, ok := tier.TryResolve(ctx, q)
		if ok && v > 0 {
			return v, tier.Name()
		}
	}
	return 0, TierDefault
}

func memoKey(item models.CollectibleItem, serial int, hasSerial bool) string {
	rarity := "none"
	if item.RarityPerMille != nil {
		rarity = strconv.FormatFloat(*item.RarityPerMille, 'f', -1, 64)
	}
	s := "no_hashtag"
	if hasSerial {
		s = strconv.Itoa(serial)
	}
	// Quoted so that separators inside names cannot make two items share a key.
	return fmt.Sprintf("%q|%q|%q|%s|%s", item.Name, item.Model, item.Backdrop, rarity, s)
}

// serialOf prefers the explicit serial over one parsed from the link.
func serialOf(item models.CollectibleItem) (int, bool) {
	if item.SerialNumber != nil {
		return *item.SerialNumber, true
	}
	return SerialFromLink(item.SourceLink)
}

// Resolve prices one item. It never fails: an item no source can price is quoted at 0.
func (r *Resolver) Resolve(ctx context.Context, item models.CollectibleItem) models.PriceQuote {
	serial, hasSerial := serialOf(item)
	key := memoKey(item, serial, hasSerial)
	if q, ok := cache.Lookup[models.PriceQuote](r.cache, cache.ClassComputed, key); ok {
		return q
	}

	base, tier := 0.0, TierDefault
	method := "unknown"
	if backdrop := SpecialBackdrop(item.Backdrop); backdrop != "" {
		base, tier = r.Price(ctx, Query{
			SearchType: SearchBackdrop,
			Name:       backdrop,
			Collection: item.Name,
			Model:      item.Model,
			Rarity:     item.RarityPerMille,
		})
		method = "special_backdrop_" + backdrop
	} else if item.Model != "" {
		base, tier = r.Price(ctx, Query{
			SearchType: SearchModel,
			Name:       item.Model,
			Collection: item.Name,
			Model:      item.Model,
			Rarity:     item.RarityPerMille,
		})
		method = "model_" + item.Model
	}
	if base < 0 {
		base = 0
	}
	if tier == TierDefault && method != "unknown" {
		method += "_" + TierDefault
	}

	final := base
	var applied *int
	if hasSerial && serial >= 1 && serial <= MaxSerialOverlay {
		final = ApplySerialMultiplier(serial, base)
		method += fmt.Sprintf("_hashtag_%d", serial)
		n := serial
		applied = &n
	}

	rate := 0.0
	if r.rates != nil {
		rate = r.rates.Rate(ctx)
	}

	quote := models.PriceQuote{
		BaseAmount:              round2(final),
		USDAmount:               round2(final * rate),
		Currency:                BaseCurrency,
		MethodTag:               method,
		OriginalBaseAmount:      round2(base),
		AppliedSerialMultiplier: applied,
		Tier:                    tier,
	}
	r.cache.Set(cache.ClassComputed, key, quote)
	return quote
}

// PricedItem is one portfolio entry.
type PricedItem struct {
	Item     models.CollectibleItem `json:"item"`
	Quote    models.PriceQuote      `json:"quote"`
	ImageURL string                 `json:"image,omitempty"`
}

type Portfolio struct {
	Items    []PricedItem `json:"items"`
	TotalTON float64      `json:"total_ton"`
	TotalUSD float64      `json:"total_usd"`
}

// ResolveMany prices items concurrently and keeps their input order.
func (r *Resolver) ResolveMany(ctx context.Context, items []models.CollectibleItem) Portfolio {
	out := make([]PricedItem, len(items))
	semaphore := make(chan struct{}, r.width)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item models.CollectibleItem) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			out[i] = PricedItem{
				Item:     item,
				Quote:    r.Resolve(ctx, item),
				ImageURL: ImageURL(item.Name, item.Model),
			}
		}(i, item)
	}
	wg.Wait()

	totalTON, totalUSD := decimal.Zero, decimal.Zero
	for _, p := range out {
		totalTON = totalTON.Add(decimal.NewFromFloat(p.Quote.BaseAmount))
		totalUSD = totalUSD.Add(decimal.NewFromFloat(p.Quote.USDAmount))
	}
	tonF, _ := totalTON.Round(2).Float64()
	usdF, _ := totalUSD.Round(2).Float64()
	if len(items) > 0 {
		log.Printf("[pricing] 估值 %d 件, 合计 %.2f TON", len(items), tonF)
	}
	return Portfolio{Items: out, TotalTON: tonF, TotalUSD: usdF}
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
