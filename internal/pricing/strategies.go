package pricing

import (
	"context"
	"strings"

	"gift-pricer/internal/models"
)

type SearchType string

const (
	SearchBackdrop SearchType = "backdrop"
	SearchModel    SearchType = "model"
	SearchSymbol   SearchType = "symbol"
)

// Query is one cascade lookup. Name is the attribute being priced: the canonical
// backdrop for a backdrop search, the model for a model search.
type Query struct {
	SearchType SearchType
	Name       string
	Collection string
	Model      string
	Rarity     *float64
}

// model is the explicit model when present, else the searched name.
func (q Query) model() string {
	if q.Model != "" {
		return q.Model
	}
	return q.Name
}

// Strategy is one tier of the cascade.
type Strategy interface {
	Name() string
	TryResolve(ctx context.Context, q Query) (float64, bool)
}

type FloorSource interface {
	Lookup(ctx context.Context, key models.FloorKey) (float64, bool)
}

type BackdropSource interface {
	BackdropPrice(ctx context.Context, shortName, backdrop string) (float64, bool)
}

type SnapshotSource interface {
	FindCollection(ctx context.Context, name string) (models.Breakdown, bool)
}

type MarketSource interface {
	CollectionPrice(ctx context.Context, name string) (float64, bool)
}

// SpecialModels trade on their own premium-backdrop floors.
var SpecialModels = map[string]bool{}

func init() {
	for _, m := range []string{
		"Crypto Queen", "Hellcat", "8 Bit Diamond", "Arabica", "Atomic Bomb", "Eternal Life",
		"Cozy Galaxy", "Gucci Leap", "Louis Vuitton", "Magnate", "Marble", "Midas Pepe",
		"Ninja Mike", "Pink Galaxy", "Steel Frog", "Bitcoin", "Black Wing", "Mission Uranus",
		"Best Muscles", "Bicep Curls", "Colossus", "Infinity", "Night Bat", "Fifth Element",
		"Fight Club", "Gold Bar", "Gold Block", "USBrick", "Crypto Orange", "Premium",
		"Rich Green", "Tonfruit", "Salem", "Cherub", "Count Macaqula", "La Baboon", "Olympia",
		"Al Dogg", "Doberman", "Black Noir", "Skull", "First Class", "Golden Bike",
		"Golden Shine", "Goodbye Kitty", "Ape Puppet", "Bank Robber", "Chimp Imp", "Flammable",
		"Piggy Bank", "Utya", "Road Ape", "Obelisk", "Crypto Dream", "Golden Girl",
		"High Voltage", "Succubus", "Endercat", "Pepe Paws", "April", "Canis Major",
		"Crypto Boom", "TON", "Saturn V", "El Classico", "Far Out", "Ice Cold",
		"Jazz Cigarette", "Oil Baron", "Pink Plume", "Psychonaut", "Short Fuse",
		"Spectral Smoke", "Super Swirls", "The Shocker",
	} {
		SpecialModels[m] = true
	}
}

// SpecialBackdrop maps a raw backdrop to its canonical premium name, or "".
func SpecialBackdrop(backdrop string) string {
	b := strings.ToLower(backdrop)
	switch {
	case strings.Contains(b, "onyx black"):
		return models.BackdropOnyxBlack
	case strings.Contains(b, "midnight blue"):
		return models.BackdropMidnightBlue
	case b == "black" || strings.HasPrefix(b, "black "):
		return models.BackdropBlack
	}
	return ""
}

// HighRarity is true for rarity at or below 0.5 per mille.
func HighRarity(rarity *float64) bool {
	return rarity != nil && *rarity <= 0.5
}

func premiumBackdropSearch(q Query) string {
	if q.SearchType != SearchBackdrop {
		return ""
	}
	return SpecialBackdrop(q.Name)
}

func isSpecialItem(q Query) bool {
	return HighRarity(q.Rarity) || SpecialModels[q.model()]
}

// SpecialItemFloor prices rare or allow-listed models on a premium backdrop from the floor snapshot.
type SpecialItemFloor struct {
	Floors FloorSource
}

func (SpecialItemFloor) Name() string { return "special_item_floor" }

func (s SpecialItemFloor) TryResolve(ctx context.Context, q Query) (float64, bool) {
	backdrop := premiumBackdropSearch(q)
	if backdrop == "" || !isSpecialItem(q) {
		return 0, false
	}
	return s.Floors.Lookup(ctx, models.FloorKey{Model: q.model(), Backdrop: backdrop, Kind: models.FloorKindBackdrop})
}

// CollectionBackdrop prices ordinary items on a premium backdrop from the collection's backdrop table.
type CollectionBackdrop struct {
	Backdrops BackdropSource
}

func (CollectionBackdrop) Name() string { return "collection_backdrop" }

func (s CollectionBackdrop) TryResolve(ctx context.Context, q Query) (float64, bool) {
	backdrop := premiumBackdropSearch(q)
	if backdrop == "" || isSpecialItem(q) {
		return 0, false
	}
	collection := q.Collection
	if collection == "" {
		collection = q.model()
	}
	short := Normalize(collection)
	if short == "" {
		return 0, false
	}
	return s.Backdrops.BackdropPrice(ctx, short, backdrop)
}

// SpecialModelFloor tries each premium backdrop floor for an allow-listed model.
type SpecialModelFloor struct {
	Floors FloorSource
}

func (SpecialModelFloor) Name() string { return "special_model_floor" }

func (s SpecialModelFloor) TryResolve(ctx context.Context, q Query) (float64, bool) {
	if q.SearchType != SearchModel || !SpecialModels[q.Name] {
		return 0, false
	}
	for _, backdrop := range models.PremiumBackdrops {
		if v, ok := s.Floors.Lookup(ctx, models.FloorKey{Model: q.Name, Backdrop: backdrop, Kind: models.FloorKindModel}); ok && v > 0 {
			return v, true
		}
	}
	return 0, false
}

// SnapshotBreakdown reads the matching collection's historical table.
type SnapshotBreakdown struct {
	Snapshot SnapshotSource
}

func (SnapshotBreakdown) Name() string { return "snapshot_breakdown" }

func (s SnapshotBreakdown) TryResolve(ctx context.Context, q Query) (float64, bool) {
	if q.Collection == "" {
		return 0, false
	}
	b, ok := s.Snapshot.FindCollection(ctx, q.Collection)
	if !ok {
		return 0, false
	}
	if HighRarity(q.Rarity) && q.SearchType == SearchModel {
		if v := b.Models[q.Name]; v > 0 {
			return v, true
		}
	}
	if v := b.Section(string(q.SearchType))[q.Name]; v > 0 {
		return v, true
	}
	return 0, false
}

// CollectionMarket falls back to the whole collection's latest market price.
type CollectionMarket struct {
	Market MarketSource
}

func (CollectionMarket) Name() string { return "collection_market" }

func (s CollectionMarket) TryResolve(ctx context.Context, q Query) (float64, bool) {
	if q.Collection == "" {
		return 0, false
	}
	return s.Market.CollectionPrice(ctx, q.Collection)
}

// DefaultCascade returns the tiers in resolution order. Nil sources are skipped.
func DefaultCascade(floors FloorSource, backdrops BackdropSource, snapshot SnapshotSource, market MarketSource) []Strategy {
	var tiers []Strategy
	if floors != nil {
		tiers = append(tiers, SpecialItemFloor{Floors: floors})
	}
	if backdrops != nil {
		tiers = append(tiers, CollectionBackdrop{Backdrops: backdrops})
	}
	if floors != nil {
		tiers = append(tiers, SpecialModelFloor{Floors: floors})
	}
	if snapshot != nil {
		tiers = append(tiers, SnapshotBreakdown{Snapshot: snapshot})
	}
	if market != nil {
		tiers = append(tiers, CollectionMarket{Market: market})
	}
	return tiers
}
