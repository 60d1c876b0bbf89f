package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gift-pricer/internal/cache"
	"gift-pricer/internal/ledger"
	"gift-pricer/internal/models"
	"gift-pricer/internal/pricing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPricer struct {
	last models.CollectibleItem
}

func (s *stubPricer) Resolve(_ context.Context, item models.CollectibleItem) models.PriceQuote {
	s.last = item
	return models.PriceQuote{BaseAmount: 10, USDAmount: 27.7, Currency: "TON", MethodTag: "model_" + item.Model}
}

func (s *stubPricer) ResolveMany(ctx context.Context, items []models.CollectibleItem) pricing.Portfolio {
	p := pricing.Portfolio{}
	for _, it := range items {
		q := s.Resolve(ctx, it)
		p.Items = append(p.Items, pricing.PricedItem{Item: it, Quote: q})
		p.TotalTON += q.BaseAmount
	}
	return p
}

type stubRate float64

func (r stubRate) Rate(context.Context) float64 { return float64(r) }

func setup(t *testing.T, perMinute int) (*gin.Engine, *ledger.Ledger, *stubPricer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := ledger.New(ledger.NewMemoryStore())
	t.Cleanup(l.Close)
	p := &stubPricer{}

	r := gin.New()
	SetupRoutes(r.Group("/api/v1"), Deps{
		Pricer:      p,
		Rates:       stubRate(2.77),
		Ledger:      l,
		Cache:       cache.New(),
		Limiter:     NewIPLimiter(perMinute),
		AdminKey:    "admin-secret",
		MaxRequests: 2,
	})
	return r, l, p
}

func do(r *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestIssueRequiresAdminKey(t *testing.T) {
	r, _, _ := setup(t, 100)

	w := do(r, http.MethodPost, "/api/v1/auth/token", gin.H{"identity": 5}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/auth/token", gin.H{"identity": 5}, map[string]string{"X-Admin-Key": "admin-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["token"], 64)
	assert.Equal(t, float64(2), body["max_requests"])

	w = do(r, http.MethodGet, "/api/v1/auth/token/5", nil, map[string]string{"X-Admin-Key": "admin-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body["token"], decode(t, w)["token"])

	w = do(r, http.MethodGet, "/api/v1/auth/token/6", nil, map[string]string{"X-Admin-Key": "admin-secret"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UNKNOWN_TOKEN", decode(t, w)["code"])
}

func TestPriceConsumesQuota(t *testing.T) {
	r, l, p := setup(t, 100)
	tok, err := l.Issue(context.Background(), 9, 2, false)
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + tok.Token}

	item := gin.H{"name": "Plush Pepe", "model": "Frog", "backdrop": "Black", "rarity_per_mille": "0.3%", "link": "https://t.me/nft/PlushPepe-11"}
	for i := 0; i < 2; i++ {
		w := do(r, http.MethodPost, "/api/v1/price", item, auth)
		require.Equal(t, http.StatusOK, w.Code)
	}
	require.NotNil(t, p.last.RarityPerMille)
	assert.Equal(t, 0.3, *p.last.RarityPerMille)

	w := do(r, http.MethodPost, "/api/v1/price", item, auth)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "QUOTA_EXCEEDED", decode(t, w)["code"])
}

func TestPriceRejectsBadTokens(t *testing.T) {
	r, _, _ := setup(t, 100)
	item := gin.H{"name": "x"}

	w := do(r, http.MethodPost, "/api/v1/price", item, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/price", item, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNKNOWN_TOKEN", decode(t, w)["code"])
}

func TestMalformedBodyKeepsQuota(t *testing.T) {
	r, l, _ := setup(t, 100)
	tok, err := l.Issue(context.Background(), 3, 1, false)
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + tok.Token}

	w := do(r, http.MethodPost, "/api/v1/price", gin.H{"model": "Frog"}, auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tooMany := make([]gin.H, maxPortfolioItems+1)
	for i := range tooMany {
		tooMany[i] = gin.H{"name": "A"}
	}
	w = do(r, http.MethodPost, "/api/v1/portfolio", gin.H{"items": tooMany}, auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/price", gin.H{"name": "Plush Pepe"}, auth)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/api/v1/price", gin.H{"name": "Plush Pepe"}, auth)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestPortfolio(t *testing.T) {
	r, l, _ := setup(t, 100)
	tok, _ := l.Issue(context.Background(), 1, 5, true)

	w := do(r, http.MethodPost, "/api/v1/portfolio", gin.H{"items": []gin.H{{"name": "A", "model": "a"}, {"name": "B", "model": "b"}}},
		map[string]string{"Authorization": "Bearer " + tok.Token})
	require.Equal(t, http.StatusOK, w.Code)

	var p pricing.Portfolio
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Len(t, p.Items, 2)
	assert.Equal(t, 20.0, p.TotalTON)
}

func TestExchangeRateAndStats(t *testing.T) {
	r, _, _ := setup(t, 100)

	w := do(r, http.MethodGet, "/api/v1/exchange-rate", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.77, decode(t, w)["rate"])

	w = do(r, http.MethodGet, "/api/v1/cache/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/api/v1/cache/stats", nil, map[string]string{"X-Admin-Key": "admin-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "cache")
	assert.Contains(t, body, "ledger")
}

func TestIPLimiter(t *testing.T) {
	r, _, _ := setup(t, 2)

	for i := 0; i < 2; i++ {
		w := do(r, http.MethodGet, "/api/v1/exchange-rate", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := do(r, http.MethodGet, "/api/v1/exchange-rate", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode(t, w)["code"])

	l := NewIPLimiter(1)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "buckets are per client")
}
