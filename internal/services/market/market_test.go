package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gift-pricer/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingBody = `[
	{"name":"Plush Pepe","priceTon":640,"priceUsd":"1800","tonPrice24hAgo":600,"usdPrice24hAgo":0,"supply":3000,"upgradedSupply":2500},
	{"name":"Durov's Cap","priceTon":"410.5","priceUsd":1100,"supply":0,"upgradedSupply":100},
	{"priceTon":1}
]`

type storedPrices map[string]float64

func (s storedPrices) MarketPrice(_ context.Context, name string) (float64, bool) {
	v, ok := s[name]
	return v, ok
}

func TestCollections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gifts", r.URL.Path)
		_, _ = w.Write([]byte(listingBody))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, time.Second).Collections(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	pepe := got[0]
	assert.Equal(t, 640.0, pepe.PriceTon)
	assert.Equal(t, 1800.0, pepe.PriceUsd)
	require.NotNil(t, pepe.Change24hTon)
	assert.InDelta(t, 6.67, *pepe.Change24hTon, 1e-9)
	assert.Nil(t, pepe.Change24hUsd)
	assert.Equal(t, 640.0*2500, pepe.MarketCapTon)

	durov := got[1]
	assert.Equal(t, 100.0, durov.Supply, "missing supply falls back to upgraded supply")
}

func TestCollectionPrice(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(listingBody))
	}))
	defer srv.Close()

	s := NewSource(NewClient(srv.URL, time.Second), cache.New(), storedPrices{"Jelly Bunny": 12})

	v, ok := s.CollectionPrice(context.Background(), "Plush Pepe")
	assert.True(t, ok)
	assert.Equal(t, 640.0, v)

	v, ok = s.CollectionPrice(context.Background(), "durovs cap")
	assert.True(t, ok, "normalized names match")
	assert.Equal(t, 410.5, v)

	v, ok = s.CollectionPrice(context.Background(), "Jelly Bunny")
	assert.True(t, ok, "stored snapshot price")
	assert.Equal(t, 12.0, v)

	_, ok = s.CollectionPrice(context.Background(), "Nothing")
	assert.False(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	names := []string{}
	for _, c := range s.Collections(context.Background()) {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Durov's Cap", "Plush Pepe"}, names)
}

func TestCollectionPriceStaleListing(t *testing.T) {
	clock := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c := cache.New(cache.WithClock(func() time.Time { return clock }))
	c.Set(cache.ClassMarket, listingKey, map[string]Collection{"Plush Pepe": {Name: "Plush Pepe", PriceTon: 600}})
	clock = clock.Add(2 * time.Minute)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSource(NewClient(srv.URL, time.Second), c, nil)
	v, ok := s.CollectionPrice(context.Background(), "Plush Pepe")
	assert.True(t, ok)
	assert.Equal(t, 600.0, v)
}
