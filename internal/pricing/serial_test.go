package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplySerialMultiplier(t *testing.T) {
	cases := []struct {
		serial int
		base   float64
		want   float64
	}{
		{11, 10, 95},
		{11, 50, 150},
		{1, 10, 3000},
		{1, 200, 6000},
		{7, 10, 200},
		{8, 30, 240},
		{2, 10, 100},
		{9, 20, 120},
		{22, 10, 45},
		{33, 10, 55},
		{44, 40, 60},
		{55, 10, 55},
		{66, 10, 45},
		{77, 40, 80},
		{88, 10, 65},
		{99, 10, 60},
		{10, 10, 45},
		{19, 20, 60},
		{20, 10, 30},
		{30, 10, 20},
		{49, 20, 30},
		{50, 10, 18},
		{60, 20, 30},
		{61, 10, 12},
		{98, 20, 20},
		{100, 10, 10},
		{0, 10, 10},
		{-3, 10, 10},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, ApplySerialMultiplier(tc.serial, tc.base), 1e-9, "serial %d base %v", tc.serial, tc.base)
	}
}

func TestSerialBandsDecrease(t *testing.T) {
	for i := 1; i < len(bands); i++ {
		prev, cur := bands[i-1].rule, bands[i].rule
		assert.True(t, cur.multiplier <= prev.multiplier)
		assert.True(t, cur.minPrice < prev.minPrice)
	}
}

func TestSerialFromLink(t *testing.T) {
	n, ok := SerialFromLink("https://t.me/nft/PlushPepe-42")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	n, ok = SerialFromLink("https://t.me/nft/PlushPepe-123-7")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = SerialFromLink("https://t.me/nft/PlushPepe")
	assert.False(t, ok)

	_, ok = SerialFromLink("")
	assert.False(t, ok)
}
