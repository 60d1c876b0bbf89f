package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gift-pricer/internal/app"
	"gift-pricer/internal/config"
	"gift-pricer/internal/ledger"

	"github.com/joho/godotenv"
)

var (
	interval  = flag.Duration("interval", 30*time.Minute, "清理间隔")
	retention = flag.Duration("retention", ledger.DefaultRetention, "失效令牌保留时长")
	once      = flag.Bool("once", false, "只运行一次，不循环")
)

func sweep(store ledger.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	deactivated, deleted, err := store.Sweep(ctx, time.Now(), *retention)
	if err != nil {
		log.Printf("❌ 清理失败: %v", err)
		return
	}
	log.Printf("✅ 失效 %d 个过期令牌, 删除 %d 条历史记录", deactivated, deleted)
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg := config.Load()
	store, err := app.OpenLedgerStore(cfg)
	if err != nil {
		log.Fatalf("❌ 打开令牌存储失败: %v", err)
	}
	defer store.Close()

	sweep(store)
	if *once {
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			log.Printf("🛑 收到关闭信号，正在退出...")
			return
		case <-ticker.C:
			sweep(store)
		}
	}
}
