// Package trending computes the ranking score shared by the quality engine,
// the orchestrator and the read API. The score is a pure function of four
// record fields and must be derived identically everywhere.
package trending

import (
	"math"
	"strconv"
	"strings"
)

const (
	ratingWeight   = 0.4
	reviewsWeight  = 0.2
	usersWeight    = 0.2
	growthWeight   = 0.2
	reviewsCeiling = 1000.0
	usersCeiling   = 10000.0
	growthCeiling  = 100.0
)

// Score maps rating, review count, weekly users and a growth string to a
// bounded scalar rounded to two decimals. It never fails: unparseable growth
// counts as zero.
func Score(rating float64, reviewCount, weeklyUsers int, growth string) float64 {
	s := rating*ratingWeight +
		math.Min(float64(reviewCount)/reviewsCeiling, 1)*reviewsWeight +
		math.Min(float64(weeklyUsers)/usersCeiling, 1)*usersWeight +
		math.Min(ParseGrowth(growth)/growthCeiling, 1)*growthWeight
	return round2(s)
}

// ParseGrowth extracts the signed percentage from strings like "+28%" or
// "12.5 %". Everything except digits, dots and signs is dropped before parsing
// and the remainder must parse whole, so strings carrying a second number
// such as "+28% (-3 wk)" collapse to "+28-3" and count as zero. Such values
// fail the growth pattern and are replaced by the quality pass.
func ParseGrowth(s string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '+' || r == '-' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
