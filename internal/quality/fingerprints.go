package quality

import (
	"sort"

	"github.com/toolscout/catalogd/internal/domain"
)

// Record field names a fingerprint or a synthesized patch can refer to.
const (
	FieldRating      = "rating"
	FieldReviewCount = "review_count"
	FieldWeeklyUsers = "weekly_users"
	FieldGrowth      = "growth"
)

// Fingerprint is an exact-value pattern known to come from placeholder data.
// A record matches when every non-nil field equals the record's field.
type Fingerprint struct {
	Name        string   `json:"name"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
	WeeklyUsers *int     `json:"weekly_users,omitempty"`
	Growth      *string  `json:"growth,omitempty"`
}

// Fields lists the record fields this fingerprint constrains.
func (f Fingerprint) Fields() []string {
	var out []string
	if f.Rating != nil {
		out = append(out, FieldRating)
	}
	if f.ReviewCount != nil {
		out = append(out, FieldReviewCount)
	}
	if f.WeeklyUsers != nil {
		out = append(out, FieldWeeklyUsers)
	}
	if f.Growth != nil {
		out = append(out, FieldGrowth)
	}
	return out
}

// Matches reports whether rec carries exactly the fingerprinted values.
// A fingerprint naming no field matches nothing.
func (f Fingerprint) Matches(rec domain.CatalogRecord) bool {
	if len(f.Fields()) == 0 {
		return false
	}
	if f.Rating != nil && *f.Rating != rec.Rating {
		return false
	}
	if f.ReviewCount != nil && *f.ReviewCount != rec.ReviewCount {
		return false
	}
	if f.WeeklyUsers != nil && *f.WeeklyUsers != rec.WeeklyUsers {
		return false
	}
	if f.Growth != nil && *f.Growth != rec.Growth {
		return false
	}
	return true
}

// FingerprintSet is a versioned, ordered table of fingerprints. Bump Version
// whenever patterns are added so reports can say which table flagged a record.
type FingerprintSet struct {
	Version  int           `json:"version"`
	Patterns []Fingerprint `json:"patterns"`
}

// Match returns the fingerprints rec matches, in table order.
func (s FingerprintSet) Match(rec domain.CatalogRecord) []Fingerprint {
	var out []Fingerprint
	for _, p := range s.Patterns {
		if p.Matches(rec) {
			out = append(out, p)
		}
	}
	return out
}

// fieldsOf unions the fields named by the given fingerprints.
func fieldsOf(fps []Fingerprint) map[string]bool {
	out := make(map[string]bool)
	for _, fp := range fps {
		for _, f := range fp.Fields() {
			out[f] = true
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }
func strp(v string) *string  { return &v }

// DefaultFingerprints is the placeholder table observed in discovery output.
func DefaultFingerprints() FingerprintSet {
	return FingerprintSet{
		Version: 2,
		Patterns: []Fingerprint{
			{Name: "generator-default-tuple", Rating: f64(4.2), ReviewCount: intp(189), WeeklyUsers: intp(150000)},
			{Name: "generator-default-users", WeeklyUsers: intp(150000)},
			{Name: "round-ten-thousand-users", WeeklyUsers: intp(10000)},
			{Name: "perfect-rating-no-reviews", Rating: f64(5.0), ReviewCount: intp(0)},
			{Name: "template-reviews", Rating: f64(4.5), ReviewCount: intp(100)},
			{Name: "template-growth", ReviewCount: intp(100), Growth: strp("+100%")},
		},
	}
}
