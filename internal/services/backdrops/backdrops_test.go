package backdrops

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

type fixedCredential string

func (f fixedCredential) Credential() (string, bool) { return string(f), f != "" }

func TestBackdropPriceCachesTable(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "plushpepe", r.URL.Query().Get("short_names"))
		assert.Equal(t, "tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"floor_prices":{"plushpepe":{"backdrops":{"Black":"410.5","Amber":88,"Ghost":0}}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, fixedCredential("tok"), cache.New())

	v, ok := c.BackdropPrice(context.Background(), "plushpepe", "Black")
	require.True(t, ok)
	assert.Equal(t, 410.5, v)

	v, ok = c.BackdropPrice(context.Background(), "plushpepe", "Amber")
	require.True(t, ok)
	assert.Equal(t, 88.0, v)

	_, ok = c.BackdropPrice(context.Background(), "plushpepe", "Ghost")
	assert.False(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestBackdropPriceStaleOnFailure(t *testing.T) {
	clock := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := cache.New(cache.WithClock(func() time.Time { return clock }))
	c.Set(cache.ClassBackdrop, "durovscap", Table{"Onyx Black": 1200})
	clock = clock.Add(time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, fixedCredential("tok"), c)
	v, ok := client.BackdropPrice(context.Background(), "durovscap", "Onyx Black")
	assert.True(t, ok)
	assert.Equal(t, 1200.0, v)

	_, ok = client.BackdropPrice(context.Background(), "unknown", "Black")
	assert.False(t, ok)
}

func TestFetchTableWithoutCredential(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, fixedCredential(""), cache.New())
	_, err := c.FetchTable(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUpstream)
}
