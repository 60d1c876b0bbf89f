package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gift-pricer/internal/app"
	"gift-pricer/internal/config"
	"gift-pricer/internal/models"
	"gift-pricer/internal/pricing"

	"github.com/joho/godotenv"
)

var (
	name     = flag.String("name", "", "藏品系列名称 (必填)")
	model    = flag.String("model", "", "模型名称")
	backdrop = flag.String("backdrop", "", "背景名称")
	rarity   = flag.String("rarity", "", "稀有度，例如 0.3 或 0.3%")
	serial   = flag.Int("serial", 0, "编号，0 表示未知")
	link     = flag.String("link", "", "t.me 链接，可从中解析编号")
	refresh  = flag.Bool("refresh", false, "定价前先刷新地板价")
	timeout  = flag.Duration("timeout", time.Minute, "总超时")
)

func main() {
	flag.Parse()
	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: price-check -name <collection> [-model M] [-backdrop B] [-rarity R] [-serial N | -link URL]")
		os.Exit(2)
	}
	_ = godotenv.Load()

	cfg := config.Load()
	engine := app.NewEngine(cfg)
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *refresh {
		n := engine.Floors.Refresh(ctx)
		log.Printf("[price-check] 刷新地板价 %d 条", n)
	}

	item := models.CollectibleItem{
		Name:       *name,
		Model:      *model,
		Backdrop:   *backdrop,
		SourceLink: *link,
	}
	if *rarity != "" {
		item.RarityPerMille = models.ParseRarity(*rarity)
	}
	if *serial > 0 {
		item.SerialNumber = serial
	}

	quote := engine.Resolver.Resolve(ctx, item)
	out, _ := json.MarshalIndent(map[string]interface{}{
		"item":  item,
		"quote": quote,
		"image": pricing.ImageURL(item.Name, item.Model),
	}, "", "  ")
	fmt.Println(string(out))
}
