package quality

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/toolscout/catalogd/internal/domain"
)

// Validation bounds. Values outside the rating domain are structural errors;
// review and user counts outside their bounds are only warnings.
const (
	minRating      = 1.0
	maxRating      = 5.0
	minReviewCount = 1
	maxReviewCount = 100000
	minWeeklyUsers = 100
	maxWeeklyUsers = 2000000
)

var growthPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?%?$`)

// ValidGrowth reports whether s is a well-formed signed percentage.
func ValidGrowth(s string) bool {
	return growthPattern.MatchString(s)
}

// validate runs every rule against rec. Rules never short-circuit so the
// caller always gets the full finding list.
func validate(rec domain.CatalogRecord) []domain.QualityFinding {
	var out []domain.QualityFinding
	add := func(kind domain.FindingKind, field, detail string) {
		out = append(out, domain.QualityFinding{
			RecordID:   rec.ID,
			RecordName: rec.Name,
			Kind:       kind,
			Field:      field,
			Detail:     detail,
		})
	}

	if strings.TrimSpace(rec.Name) == "" {
		add(domain.FindingSchemaError, "name", "name is missing")
	}
	if strings.TrimSpace(rec.Description) == "" {
		add(domain.FindingSchemaError, "description", "description is missing")
	}
	if strings.TrimSpace(rec.Category) == "" {
		add(domain.FindingSchemaError, "category", "category is missing")
	}
	if !absoluteURL(rec.Website) {
		add(domain.FindingSchemaError, "website", fmt.Sprintf("website %q is not an absolute URL", rec.Website))
	}
	if rec.Rating < minRating || rec.Rating > maxRating {
		add(domain.FindingSchemaError, FieldRating, fmt.Sprintf("rating %v outside [%v, %v]", rec.Rating, minRating, maxRating))
	}
	if rec.ReviewCount < minReviewCount || rec.ReviewCount > maxReviewCount {
		add(domain.FindingRangeWarning, FieldReviewCount, fmt.Sprintf("review_count %d outside [%d, %d]", rec.ReviewCount, minReviewCount, maxReviewCount))
	}
	if rec.WeeklyUsers < minWeeklyUsers || rec.WeeklyUsers > maxWeeklyUsers {
		add(domain.FindingRangeWarning, FieldWeeklyUsers, fmt.Sprintf("weekly_users %d outside [%d, %d]", rec.WeeklyUsers, minWeeklyUsers, maxWeeklyUsers))
	}
	if !ValidGrowth(rec.Growth) {
		add(domain.FindingRangeWarning, FieldGrowth, fmt.Sprintf("growth %q is not a signed percentage", rec.Growth))
	}
	return out
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
