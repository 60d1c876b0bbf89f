package models

import (
	"strconv"
	"strings"
	"time"
)

// CollectibleItem is one upgraded gift as handed to the resolver by the caller.
type CollectibleItem struct {
	Name           string   `json:"name"`
	Model          string   `json:"model"`
	Backdrop       string   `json:"backdrop"`
	RarityPerMille *float64 `json:"rarity_per_mille,omitempty"`
	SerialNumber   *int     `json:"serial_number,omitempty"`
	SourceLink     string   `json:"link,omitempty"`
}

// PriceQuote is the resolved valuation of a CollectibleItem.
type PriceQuote struct {
	BaseAmount              float64 `json:"price_ton"`
	USDAmount               float64 `json:"price_usd"`
	Currency                string  `json:"currency"`
	MethodTag               string  `json:"pricing_method"`
	OriginalBaseAmount      float64 `json:"original_base_price"`
	AppliedSerialMultiplier *int    `json:"hashtag_applied"`

	// Tier is the cascade tier that produced the base price; diagnostic only.
	Tier string `json:"tier,omitempty"`
}

// AccessToken 用户访问令牌（每个身份同一时间只有一个有效令牌）
type AccessToken struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Identity     int64     `json:"identity" gorm:"index;not null"`
	Token        string    `json:"token" gorm:"uniqueIndex;size:64;not null"`
	RequestCount int       `json:"request_count" gorm:"default:0"`
	MaxRequests  int       `json:"max_requests" gorm:"default:40"`
	Subscribed   bool      `json:"is_subscribed" gorm:"default:false"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"index"`
	Active       bool      `json:"is_active" gorm:"index;default:true"`
}

func (AccessToken) TableName() string {
	return "user_tokens"
}

// Expired reports whether the token is past its lifetime at now.
func (t AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Remaining returns how many gated calls are still allowed.
func (t AccessToken) Remaining() int {
	if r := t.MaxRequests - t.RequestCount; r > 0 {
		return r
	}
	return 0
}

// ParseRarity accepts per-mille rarity given as a number or a string like "0.3%".
func ParseRarity(raw interface{}) *float64 {
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, "%", ""))
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

// ParseAmount reads an upstream price that may be encoded as a JSON number or a numeric string.
// Zero, negative and unparsable values report false.
func ParseAmount(raw interface{}) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f <= 0 {
		return 0, false
	}
	return f, true
}
