package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gift-pricer/internal/cache"

	"github.com/stretchr/testify/assert"
)

func newServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRatePrimaryThenCached(t *testing.T) {
	var hits int32
	primary := newServer(t, http.StatusOK, `{"symbol":"TONUSDT","price":"3.25"}`, &hits)
	secondary := newServer(t, http.StatusOK, `{"the-open-network":{"usd":9.9}}`, nil)

	r := NewRates(cache.New(), BinanceSource(primary.URL), CoinGeckoSource(secondary.URL), 2.77, time.Second)

	assert.InDelta(t, 3.25, r.Rate(context.Background()), 1e-9)
	assert.InDelta(t, 3.25, r.Rate(context.Background()), 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second call served from the exchange class")
}

func TestRateFallsBackToSecondary(t *testing.T) {
	primary := newServer(t, http.StatusBadGateway, `oops`, nil)
	secondary := newServer(t, http.StatusOK, `{"the-open-network":{"usd":2.5}}`, nil)

	r := NewRates(cache.New(), BinanceSource(primary.URL), CoinGeckoSource(secondary.URL), 2.77, time.Second)
	assert.InDelta(t, 2.5, r.Rate(context.Background()), 1e-9)
}

func TestRateUsesStaleThenConstant(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := cache.New(cache.WithClock(func() time.Time { return clock }))

	primary := newServer(t, http.StatusInternalServerError, ``, nil)
	secondary := newServer(t, http.StatusOK, `{"price":"not json for this source"`, nil)

	r := NewRates(c, BinanceSource(primary.URL), CoinGeckoSource(secondary.URL), 2.77, time.Second)
	assert.InDelta(t, 2.77, r.Rate(context.Background()), 1e-9, "nothing known yet")

	c.Set(cache.ClassExchange, "primary", 3.0)
	clock = clock.Add(5 * time.Minute)
	assert.InDelta(t, 3.0, r.Rate(context.Background()), 1e-9, "stale primary beats the constant")
}

func TestRateRejectsNonPositive(t *testing.T) {
	primary := newServer(t, http.StatusOK, `{"price":"0"}`, nil)
	r := NewRates(cache.New(), BinanceSource(primary.URL), CoinGeckoSource(""), 2.77, time.Second)
	assert.InDelta(t, 2.77, r.Rate(context.Background()), 1e-9)
}
