package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"gift-pricer/internal/cache"

	"github.com/go-resty/resty/v2"
)

// ErrUnavailable is returned by a single source that could not produce a positive rate.
var ErrUnavailable = errors.New("exchange rate unavailable")

// Source is one external quote service for the TON/USD pair.
type Source struct {
	Name  string
	URL   string
	Parse func(body []byte) (float64, error)
}

// BinanceSource parses {"symbol":"TONUSDT","price":"2.91"}.
func BinanceSource(url string) Source {
	return Source{Name: "primary", URL: url, Parse: parseTickerPrice}
}

// CoinGeckoSource parses {"the-open-network":{"usd":2.91}}.
func CoinGeckoSource(url string) Source {
	return Source{Name: "secondary", URL: url, Parse: parseSimplePrice}
}

type Rates struct {
	client    *resty.Client
	cache     *cache.Manager
	primary   Source
	secondary Source
	fallback  float64
}

func NewRates(c *cache.Manager, primary, secondary Source, fallback float64, timeout time.Duration) *Rates {
	client := resty.New()
	client.SetTimeout(timeout)
	return &Rates{
		client:    client,
		cache:     c,
		primary:   primary,
		secondary: secondary,
		fallback:  fallback,
	}
}

// Rate returns USD per TON. It never fails: a fresh cached quote wins, then a
// live primary/secondary fetch, then the last stale quote, then the configured constant.
func (r *Rates) Rate(ctx context.Context) float64 {
	sources := []Source{r.primary, r.secondary}

	for _, s := range sources {
		if v, ok := cache.Lookup[float64](r.cache, cache.ClassExchange, s.Name); ok {
			return v
		}
	}

	for _, s := range sources {
		v, err := r.fetch(ctx, s)
		if err != nil {
			log.Printf("[exchange] %s 汇率获取失败: %v", s.Name, err)
			continue
		}
		r.cache.Set(cache.ClassExchange, s.Name, v)
		return v
	}

	for _, s := range sources {
		if v, ok := cache.LookupStale[float64](r.cache, cache.ClassExchange, s.Name); ok {
			log.Printf("[exchange] 使用过期的 %s 汇率 %.4f", s.Name, v)
			return v
		}
	}

	return r.fallback
}

func (r *Rates) fetch(ctx context.Context, s Source) (float64, error) {
	if s.URL == "" {
		return 0, fmt.Errorf("%s: no url configured: %w", s.Name, ErrUnavailable)
	}
	resp, err := r.client.R().SetContext(ctx).Get(s.URL)
	if err != nil {
		return 0, fmt.Errorf("%s request failed: %w", s.Name, err)
	}
	if !resp.IsSuccess() {
		return 0, fmt.Errorf("%s returned HTTP %d: %w", s.Name, resp.StatusCode(), ErrUnavailable)
	}
	v, err := s.Parse(resp.Body())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s.Name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s returned non-positive rate %v: %w", s.Name, v, ErrUnavailable)
	}
	return v, nil
}

func parseTickerPrice(body []byte) (float64, error) {
	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	v, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ticker price %q: %w", payload.Price, err)
	}
	return v, nil
}

func parseSimplePrice(body []byte) (float64, error) {
	var payload map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode simple price: %w", err)
	}
	p, ok := payload["the-open-network"]
	if !ok {
		return 0, fmt.Errorf("simple price missing the-open-network: %w", ErrUnavailable)
	}
	return p.USD, nil
}
