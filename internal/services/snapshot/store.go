// Package snapshot reads the local, read-only SQLite snapshot of historical
// per-collection price breakdowns and whole-collection market prices.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"gift-pricer/internal/models"
	"gift-pricer/internal/pricing"

	_ "modernc.org/sqlite"
)

type rawBreakdown struct {
	Backdrops map[string]interface{} `json:"backdrops"`
	Models    map[string]interface{} `json:"models"`
	Symbols   map[string]interface{} `json:"symbols"`
}

type giftRow struct {
	FloorPrices map[string]rawBreakdown `json:"floor_prices"`
}

type Store struct {
	db *sql.DB
}

// Open opens the snapshot file read-only.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping snapshot %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// FindCollection fuzzy-matches name against every collection key in the gifts
// table and returns the matched breakdown.
func (s *Store) FindCollection(ctx context.Context, name string) (models.Breakdown, bool) {
	query := pricing.Normalize(name)
	if query == "" {
		return models.Breakdown{}, false
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data_json FROM gifts`)
	if err != nil {
		log.Printf("[snapshot] 查询 gifts 失败: %v", err)
		return models.Breakdown{}, false
	}
	defer rows.Close()

	collections := make(map[string]rawBreakdown)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			log.Printf("[snapshot] 读取行失败: %v", err)
			continue
		}
		var row giftRow
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			continue
		}
		for key, b := range row.FloorPrices {
			k := pricing.Normalize(key)
			if _, seen := collections[k]; !seen {
				collections[k] = b
			}
		}
	}
	if err := rows.Err(); err != nil {
		log.Printf("[snapshot] 遍历 gifts 失败: %v", err)
	}

	keys := make([]string, 0, len(collections))
	for k := range collections {
		keys = append(keys, k)
	}
	match, ok := MatchCollection(query, keys)
	if !ok {
		return models.Breakdown{}, false
	}
	raw := collections[match]
	return models.Breakdown{
		Backdrops: amounts(raw.Backdrops),
		Models:    amounts(raw.Models),
		Symbols:   amounts(raw.Symbols),
	}, true
}

// MarketPrice reads the last stored whole-collection price.
func (s *Store) MarketPrice(ctx context.Context, name string) (float64, bool) {
	var price sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT price_ton FROM market_data WHERE name = ?`, name).Scan(&price)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[snapshot] 查询 market_data 失败: %v", err)
		}
		return 0, false
	}
	if !price.Valid || price.Float64 <= 0 {
		return 0, false
	}
	return price.Float64, true
}

// MatchCollection picks the key that best matches an already normalized query.
// Equality wins. Otherwise the longest key that contains the query or is
// contained in it wins, ties broken by lexical order.
func MatchCollection(query string, keys []string) (string, bool) {
	if query == "" {
		return "", false
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	best := ""
	for _, k := range sorted {
		if k == "" {
			continue
		}
		if k == query {
			return k, true
		}
		if !containsEither(k, query) {
			continue
		}
		if len(k) > len(best) {
			best = k
		}
	}
	return best, best != ""
}

func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func amounts(raw map[string]interface{}) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := models.ParseAmount(v); ok {
			out[k] = f
		}
	}
	return out
}
