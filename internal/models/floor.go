package models

import "fmt"

// FloorKind distinguishes a floor observed for the backdrop filter from one observed for the model filter.
type FloorKind string

const (
	FloorKindBackdrop FloorKind = "backdrop"
	FloorKindModel    FloorKind = "model"
)

// Premium backdrops trade independently of ordinary floor data.
const (
	BackdropBlack        = "Black"
	BackdropOnyxBlack    = "Onyx Black"
	BackdropMidnightBlue = "Midnight Blue"
)

// PremiumBackdrops in lookup order.
var PremiumBackdrops = []string{BackdropBlack, BackdropOnyxBlack, BackdropMidnightBlue}

type FloorKey struct {
	Model    string
	Backdrop string
	Kind     FloorKind
}

func (k FloorKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Model, k.Backdrop, k.Kind)
}

// FloorPriceIndex maps (model, backdrop, kind) to a floor price in TON.
type FloorPriceIndex map[FloorKey]float64

// Breakdown is one collection's historical floor table split by attribute kind.
type Breakdown struct {
	Backdrops map[string]float64
	Models    map[string]float64
	Symbols   map[string]float64
}

// Section returns the sub-table for a search type: "backdrop", "model" or "symbol".
func (b Breakdown) Section(searchType string) map[string]float64 {
	switch searchType {
	case "backdrop":
		return b.Backdrops
	case "model":
		return b.Models
	case "symbol":
		return b.Symbols
	}
	return nil
}
