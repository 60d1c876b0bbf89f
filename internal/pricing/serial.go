package pricing

import (
	"math"
	"regexp"
	"strconv"
)

// MaxSerialOverlay is the highest serial that still carries a scarcity premium.
const MaxSerialOverlay = 99

type serialRule struct {
	multiplier float64
	minPrice   float64
}

func (r serialRule) apply(base float64) float64 {
	return math.Max(base*r.multiplier, r.minPrice)
}

// 重复数字编号（11, 22, ... 99）各自的倍数与最低价
var repeatedDigitRules = map[int]serialRule{
	11: {3, 95},
	22: {2, 45},
	33: {3, 55},
	44: {1.5, 49},
	55: {1.5, 55},
	66: {1.5, 45},
	77: {2, 60},
	88: {3, 65},
	99: {1.5, 60},
}

var (
	ruleFirst     = serialRule{30, 3000}
	ruleLuckyPair = serialRule{8, 200} // 7 and 8
	ruleSingle    = serialRule{6, 100}
)

// bands hold the diminishing premium for two-digit serials, checked in order.
var bands = []struct {
	lo, hi int
	rule   serialRule
}{
	{10, 19, serialRule{3, 45}},
	{20, 29, serialRule{2, 30}},
	{30, 49, serialRule{1.5, 20}},
	{50, 60, serialRule{1.5, 18}},
	{61, 98, serialRule{1, 12}},
}

// ApplySerialMultiplier overlays the scarcity premium of a low serial number on
// a base price. Serials outside 1..99 leave the price unchanged.
func ApplySerialMultiplier(serial int, base float64) float64 {
	if serial < 1 || serial > MaxSerialOverlay {
		return base
	}
	if rule, ok := repeatedDigitRules[serial]; ok {
		return rule.apply(base)
	}
	switch {
	case serial == 1:
		return ruleFirst.apply(base)
	case serial == 7 || serial == 8:
		return ruleLuckyPair.apply(base)
	case serial <= 9:
		return ruleSingle.apply(base)
	}
	for _, b := range bands {
		if serial >= b.lo && serial <= b.hi {
			return b.rule.apply(base)
		}
	}
	return base
}

var (
	linkDoubleSuffix = regexp.MustCompile(`-(\d+)-(\d+)$`)
	linkSlugSuffix   = regexp.MustCompile(`/(\w+)-(\d+)$`)
	linkAnySuffix    = regexp.MustCompile(`-(\d+)$`)
)

// SerialFromLink extracts the mint number from a gift link such as
// https://t.me/nft/PlushPepe-42. With two trailing numbers the second one wins.
func SerialFromLink(link string) (int, bool) {
	if link == "" {
		return 0, false
	}
	if m := linkDoubleSuffix.FindStringSubmatch(link); m != nil {
		return atoiOK(m[2])
	}
	if m := linkSlugSuffix.FindStringSubmatch(link); m != nil {
		return atoiOK(m[2])
	}
	if m := linkAnySuffix.FindStringSubmatch(link); m != nil {
		return atoiOK(m[1])
	}
	return 0, false
}

func atoiOK(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
