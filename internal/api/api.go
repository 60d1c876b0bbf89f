package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gift-pricer/internal/cache"
	"gift-pricer/internal/ledger"
	"gift-pricer/internal/models"
	"gift-pricer/internal/pricing"
	"gift-pricer/internal/services/market"

	"github.com/gin-gonic/gin"
)

const maxPortfolioItems = 500

type Pricer interface {
	Resolve(ctx context.Context, item models.CollectibleItem) models.PriceQuote
	ResolveMany(ctx context.Context, items []models.CollectibleItem) pricing.Portfolio
}

type RateProvider interface {
	Rate(ctx context.Context) float64
}

type MarketLister interface {
	Collections(ctx context.Context) []market.Collection
}

// Deps are the services the HTTP layer needs. Market may be nil.
type Deps struct {
	Pricer      Pricer
	Rates       RateProvider
	Ledger      *ledger.Ledger
	Cache       *cache.Manager
	Market      MarketLister
	Limiter     *IPLimiter
	AdminKey    string
	MaxRequests int
}

type APIHandler struct {
	deps Deps
}

func SetupRoutes(r *gin.RouterGroup, deps Deps) *APIHandler {
	handler := &APIHandler{deps: deps}

	if deps.Limiter != nil {
		r.Use(deps.Limiter.Middleware())
	}

	auth := r.Group("/auth")
	auth.Use(handler.RequireAdmin())
	{
		auth.POST("/token", handler.IssueToken)
		auth.GET("/token/:identity", handler.GetToken)
	}

	r.GET("/exchange-rate", handler.GetExchangeRate)

	// Bodies are validated before RequireToken so a malformed request costs no quota.
	r.POST("/price", bindItem, handler.RequireToken(), handler.ResolvePrice)
	r.POST("/portfolio", bindPortfolio, handler.RequireToken(), handler.ResolvePortfolio)
	r.GET("/market", handler.RequireToken(), handler.ListMarket)

	admin := r.Group("/cache")
	admin.Use(handler.RequireAdmin())
	{
		admin.GET("/stats", handler.CacheStats)
	}

	return handler
}

func abortError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

// RequireAdmin accepts callers presenting the shared admin key, which is how
// the external identity verifier talks to the ledger.
func (h *APIHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if h.deps.AdminKey == "" || key != h.deps.AdminKey {
			abortError(c, http.StatusUnauthorized, "ADMIN_REQUIRED", "未授权")
			return
		}
		c.Next()
	}
}

// RequireToken charges one request against the bearer token.
func (h *APIHandler) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			abortError(c, http.StatusUnauthorized, "UNKNOWN_TOKEN", "缺少访问令牌")
			return
		}

		identity, subscribed, err := h.deps.Ledger.VerifyAndConsume(token)
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrQuotaExceeded):
			abortError(c, http.StatusTooManyRequests, "QUOTA_EXCEEDED", err.Error())
			return
		case errors.Is(err, ledger.ErrTokenExpired):
			abortError(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "令牌已过期")
			return
		default:
			abortError(c, http.StatusUnauthorized, "UNKNOWN_TOKEN", "无效的令牌")
			return
		}

		c.Set("identity", identity)
		c.Set("subscribed", subscribed)
		c.Next()
	}
}

type issueRequest struct {
	Identity    int64 `json:"identity" binding:"required"`
	MaxRequests int   `json:"max_requests"`
	Subscribed  bool  `json:"is_subscribed"`
}

func (h *APIHandler) IssueToken(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	maxRequests := req.MaxRequests
	if maxRequests <= 0 {
		maxRequests = h.deps.MaxRequests
	}

	tok, err := h.deps.Ledger.Issue(c.Request.Context(), req.Identity, maxRequests, req.Subscribed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "令牌签发失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":        tok.Token,
		"identity":     tok.Identity,
		"max_requests": tok.MaxRequests,
		"expires_at":   tok.ExpiresAt,
	})
}

func (h *APIHandler) GetToken(c *gin.Context) {
	identity, err := strconv.ParseInt(c.Param("identity"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity"})
		return
	}
	info, err := h.deps.Ledger.LookupByIdentity(c.Request.Context(), identity)
	if errors.Is(err, ledger.ErrTokenExpired) {
		abortError(c, http.StatusNotFound, "TOKEN_EXPIRED", "令牌已过期")
		return
	}
	if err != nil {
		abortError(c, http.StatusNotFound, "UNKNOWN_TOKEN", "未找到有效令牌")
		return
	}
	c.JSON(http.StatusOK, info)
}

// itemRequest accepts rarity either as a number or as a string like "0.3%".
type itemRequest struct {
	Name         string      `json:"name"`
	Model        string      `json:"model"`
	Backdrop     string      `json:"backdrop"`
	Rarity       interface{} `json:"rarity_per_mille"`
	SerialNumber *int        `json:"serial_number"`
	Link         string      `json:"link"`
}

func (r itemRequest) item() models.CollectibleItem {
	return models.CollectibleItem{
		Name:           strings.TrimSpace(r.Name),
		Model:          strings.TrimSpace(r.Model),
		Backdrop:       strings.TrimSpace(r.Backdrop),
		RarityPerMille: models.ParseRarity(r.Rarity),
		SerialNumber:   r.SerialNumber,
		SourceLink:     strings.TrimSpace(r.Link),
	}
}

const requestKey = "request"

func bindItem(c *gin.Context) {
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name 不能为空"})
		return
	}
	c.Set(requestKey, req)
	c.Next()
}

func (h *APIHandler) ResolvePrice(c *gin.Context) {
	item := c.MustGet(requestKey).(itemRequest).item()
	quote := h.deps.Pricer.Resolve(c.Request.Context(), item)
	c.JSON(http.StatusOK, gin.H{
		"item":  item,
		"quote": quote,
		"image": pricing.ImageURL(item.Name, item.Model),
	})
}

type portfolioRequest struct {
	Items []itemRequest `json:"items"`
}

func bindPortfolio(c *gin.Context) {
	var req portfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	if len(req.Items) > maxPortfolioItems {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "items 数量超过上限"})
		return
	}
	c.Set(requestKey, req)
	c.Next()
}

func (h *APIHandler) ResolvePortfolio(c *gin.Context) {
	req := c.MustGet(requestKey).(portfolioRequest)
	items := make([]models.CollectibleItem, 0, len(req.Items))
	for _, r := range req.Items {
		items = append(items, r.item())
	}
	c.JSON(http.StatusOK, h.deps.Pricer.ResolveMany(c.Request.Context(), items))
}

func (h *APIHandler) GetExchangeRate(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pair": "TON/USD",
		"rate": h.deps.Rates.Rate(c.Request.Context()),
	})
}

func (h *APIHandler) ListMarket(c *gin.Context) {
	if h.deps.Market == nil {
		c.JSON(http.StatusOK, gin.H{"collections": []market.Collection{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": h.deps.Market.Collections(c.Request.Context())})
}

func (h *APIHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":  h.deps.Cache.Stats(),
		"ledger": h.deps.Ledger.Stats(),
	})
}
