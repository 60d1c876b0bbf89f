package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gift-pricer/internal/api"
	"gift-pricer/internal/app"
	"gift-pricer/internal/config"
	"gift-pricer/internal/jobs"
	"gift-pricer/internal/ledger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	if cfg.AdminKey == "" {
		log.Println("⚠️  ADMIN_KEY 未配置，令牌签发接口不可用")
	}

	engine := app.NewEngine(cfg)
	defer engine.Close()

	store, err := app.OpenLedgerStore(cfg)
	if err != nil {
		log.Fatal("Failed to open token store:", err)
	}
	defer store.Close()

	tokens := ledger.New(store, ledger.WithTTL(cfg.TokenTTL))
	defer tokens.Close()

	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := tokens.Warm(warmCtx); err != nil {
		log.Printf("⚠️  令牌预热失败: %v", err)
	}
	cancel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := jobs.NewRunner(ctx)
	runner.Every("floor-refresh", cfg.FloorRefreshInterval, true, func(ctx context.Context) {
		engine.Floors.Refresh(ctx)
	})
	runner.Every("cache-sweep", cfg.CacheSweepInterval, false, func(context.Context) {
		engine.Cache.SweepExpired()
	})
	runner.Every("ledger-sweep", cfg.LedgerSweepInterval, false, func(ctx context.Context) {
		if _, err := tokens.Sweep(ctx); err != nil {
			log.Printf("[ledger] %v", err)
		}
	})
	defer runner.Stop()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, api.Deps{
		Pricer:      engine.Resolver,
		Rates:       engine.Rates,
		Ledger:      tokens,
		Cache:       engine.Cache,
		Market:      engine.Market,
		Limiter:     api.NewIPLimiter(cfg.IPRatePerMinute),
		AdminKey:    cfg.AdminKey,
		MaxRequests: cfg.MaxRequestsPerToken,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 收到关闭信号，正在优雅关闭...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}
