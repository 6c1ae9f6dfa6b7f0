package quality

import (
	"math"

	"github.com/toolscout/catalogd/internal/domain"
)

// Rand is the randomness the synthesizer draws from. *rand.Rand from
// math/rand/v2 satisfies it; tests pass a seeded source.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Plausible bands. A synthesized value always lands inside its band, so a
// second pass over a fixed record finds nothing to regenerate.
const (
	plausibleRatingMin = 2.0
	plausibleRatingMax = 5.0
	plausibleReviewMin = 50
	plausibleReviewMax = 50000
	plausibleUsersMin  = 1000
	plausibleUsersMax  = 500000
)

// plausibleGrowth is the curated set replacement growth values are drawn from.
var plausibleGrowth = []string{"+5%", "+8%", "+12%", "+15%", "+18%", "+22%", "+25%", "+30%"}

func uniform(r Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// outOfBand returns the regenerable fields of rec that sit outside their plausible band.
func outOfBand(rec domain.CatalogRecord) map[string]bool {
	out := make(map[string]bool)
	if rec.Rating < plausibleRatingMin || rec.Rating > plausibleRatingMax {
		out[FieldRating] = true
	}
	if rec.ReviewCount < plausibleReviewMin || rec.ReviewCount > plausibleReviewMax {
		out[FieldReviewCount] = true
	}
	if rec.WeeklyUsers < plausibleUsersMin || rec.WeeklyUsers > plausibleUsersMax {
		out[FieldWeeklyUsers] = true
	}
	if !ValidGrowth(rec.Growth) {
		out[FieldGrowth] = true
	}
	return out
}

// synthesize draws replacement values for the given fields. Fields are
// visited in sorted order so a seeded Rand yields the same patch every time.
func synthesize(r Rand, fields map[string]bool) domain.RecordPatch {
	var p domain.RecordPatch
	for _, f := range sortedKeys(fields) {
		switch f {
		case FieldRating:
			v := math.Round(uniform(r, 3.8, 4.9)*10) / 10
			p.Rating = &v
		case FieldReviewCount:
			v := int(math.Floor(uniform(r, 50, 550) * uniform(r, 0.5, 3.5)))
			v = clampInt(v, plausibleReviewMin, plausibleReviewMax)
			p.ReviewCount = &v
		case FieldWeeklyUsers:
			v := int(math.Floor(uniform(r, 1000, 6000) * uniform(r, 0.5, 2.5)))
			v = clampInt(v, plausibleUsersMin, plausibleUsersMax)
			p.WeeklyUsers = &v
		case FieldGrowth:
			v := plausibleGrowth[r.IntN(len(plausibleGrowth))]
			p.Growth = &v
		}
	}
	return p
}
