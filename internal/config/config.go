package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// 令牌存储
	DatabaseURL   string
	LedgerStore   string // mysql, redis, memory
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// 本地快照（只读 sqlite）
	SnapshotDBPath string

	// 上游服务
	FloorCredentialFile  string
	FloorAPIBase         string
	BackdropAPIBase      string
	MarketAPIBase        string
	ExchangePrimaryURL   string
	ExchangeSecondaryURL string
	ExchangeDefaultRate  float64
	UpstreamTimeout      time.Duration
	ExchangeTimeout      time.Duration
	FanoutWidth          int

	// 访问控制
	AdminKey            string
	MaxRequestsPerToken int
	TokenTTL            time.Duration
	IPRatePerMinute     int

	// 后台任务
	FloorRefreshInterval time.Duration
	CacheSweepInterval   time.Duration
	LedgerSweepInterval  time.Duration
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL:   getEnv("DATABASE_URL", "root:root@tcp(127.0.0.1:3306)/gift_pricer?charset=utf8mb4&parseTime=True&loc=Local"),
		LedgerStore:   getEnv("LEDGER_STORE", "mysql"),
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SnapshotDBPath: getEnv("SNAPSHOT_DB_PATH", "gifts_data.db"),

		FloorCredentialFile:  getEnv("FLOOR_CREDENTIAL_FILE", "black_token.json"),
		FloorAPIBase:         getEnv("FLOOR_API_BASE", "https://portal-market.com"),
		BackdropAPIBase:      getEnv("BACKDROP_API_BASE", "https://portal-market.com"),
		MarketAPIBase:        getEnv("MARKET_API_BASE", "https://giftcharts-api.onrender.com"),
		ExchangePrimaryURL:   getEnv("EXCHANGE_PRIMARY_URL", "https://api.binance.com/api/v3/ticker/price?symbol=TONUSDT"),
		ExchangeSecondaryURL: getEnv("EXCHANGE_SECONDARY_URL", "https://api.coingecko.com/api/v3/simple/price?ids=the-open-network&vs_currencies=usd"),
		ExchangeDefaultRate:  getEnvFloat("EXCHANGE_DEFAULT_RATE", 2.77),
		UpstreamTimeout:      getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		ExchangeTimeout:      getEnvDuration("EXCHANGE_TIMEOUT", 5*time.Second),
		FanoutWidth:          getEnvInt("FANOUT_WIDTH", 15),

		AdminKey:            getEnv("ADMIN_KEY", ""),
		MaxRequestsPerToken: getEnvInt("MAX_REQUESTS_PER_TOKEN", 40),
		TokenTTL:            getEnvDuration("TOKEN_TTL", time.Hour),
		IPRatePerMinute:     getEnvInt("IP_RATE_PER_MINUTE", 30),

		FloorRefreshInterval: getEnvDuration("FLOOR_REFRESH_INTERVAL", 10*time.Minute),
		CacheSweepInterval:   getEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		LedgerSweepInterval:  getEnvDuration("LEDGER_SWEEP_INTERVAL", 5*time.Minute),
	}
}

// IsDevelopment reports whether verbose SQL logging and permissive defaults should apply.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[config] %s=%q 不是整数，使用默认值 %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("[config] %s=%q 不是数字，使用默认值 %v", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("[config] %s=%q 不是有效时长，使用默认值 %v", key, raw, defaultValue)
		return defaultValue
	}
	return v
}
