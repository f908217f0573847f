package zap

import (
	"math"
	"strconv"
	"strings"
)

// Shares is the split of one zap between the creator and the platform. The
// two shares always add up to the total.
type Shares struct {
	Total      uint64
	Creator    uint64
	Platform   uint64
	FeePercent float64
}

// Split divides amount sats, giving the platform the floor of feePercent of
// it and the creator the rest.
func Split(amount uint64, feePercent float64) (s Shares) {
	s.Total = amount
	s.FeePercent = ClampPercent(feePercent)
	switch {
	case s.FeePercent == math.Trunc(s.FeePercent) && amount <= math.MaxUint64/100:
		s.Platform = amount * uint64(s.FeePercent) / 100
	default:
		s.Platform = uint64(math.Floor(float64(amount) * s.FeePercent / 100))
		s.Platform = min(s.Platform, amount)
	}
	s.Creator = amount - s.Platform
	return
}

// ClampPercent limits a percentage to [0,100]; NaN is 0.
func ClampPercent(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return f
}

// ParsePercent reads a fee setting such as "10" or "12.5%". Anything that is
// not a finite number gives 0.
func ParsePercent(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0
	}
	return ClampPercent(f)
}
