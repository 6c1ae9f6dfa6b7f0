package domain

import "time"

// FindingKind classifies a quality finding.
type FindingKind string

const (
	// FindingSchemaError blocks a record from counting as valid and is never auto-corrected.
	FindingSchemaError FindingKind = "schema-error"
	// FindingRangeWarning marks a plausible but unusual numeric value.
	FindingRangeWarning FindingKind = "range-warning"
	// FindingMockData marks an exact match against a known placeholder fingerprint.
	FindingMockData FindingKind = "mock-data-suspected"
)

// QualityFinding is one issue found on one record during a quality pass.
type QualityFinding struct {
	RecordID   string       `json:"recordId"`
	RecordName string       `json:"recordName"`
	Kind       FindingKind  `json:"kind"`
	Field      string       `json:"field,omitempty"`
	Detail     string       `json:"detail"`
	Suggestion *RecordPatch `json:"suggestion,omitempty"`
}

// QualityReport aggregates one quality pass over the whole catalog.
type QualityReport struct {
	GeneratedAt         time.Time        `json:"generatedAt"`
	TotalRecords        int              `json:"totalRecords"`
	ValidRecords        int              `json:"validRecords"`
	CleanRecords        int              `json:"cleanRecords"`
	RecordsWithErrors   int              `json:"recordsWithErrors"`
	RecordsWithWarnings int              `json:"recordsWithWarnings"`
	MockDataRecords     int              `json:"mockDataRecords"`
	SuspiciousRecords   int              `json:"suspiciousRecords"`
	QualityScore        int              `json:"qualityScore"`
	FingerprintVersion  int              `json:"fingerprintVersion"`
	Findings            []QualityFinding `json:"findings"`
	FixesApplied        int              `json:"fixesApplied"`
	SkippedFixes        []string         `json:"skippedFixes,omitempty"`
	Alerted             bool             `json:"alerted"`
	AlertReasons        []string         `json:"alertReasons,omitempty"`
}

// MockDataPct is the share of records flagged as mock data, in percent.
func (r *QualityReport) MockDataPct() float64 {
	if r.TotalRecords == 0 {
		return 0
	}
	return float64(r.MockDataRecords) / float64(r.TotalRecords) * 100
}

// SuspiciousPct is the share of records exceeding the per-record finding limit, in percent.
func (r *QualityReport) SuspiciousPct() float64 {
	if r.TotalRecords == 0 {
		return 0
	}
	return float64(r.SuspiciousRecords) / float64(r.TotalRecords) * 100
}

// AlertIssue names one affected record in an alert payload.
type AlertIssue struct {
	Name   string      `json:"name"`
	Type   FindingKind `json:"type"`
	Field  string      `json:"field,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// AlertPayload is sent to the alert sink when a pass crosses a threshold.
type AlertPayload struct {
	QualityScore      int          `json:"qualityScore"`
	TotalTools        int          `json:"totalTools"`
	ValidTools        int          `json:"validTools"`
	ToolsWithErrors   int          `json:"toolsWithErrors"`
	ToolsWithWarnings int          `json:"toolsWithWarnings"`
	MockDataTools     int          `json:"mockDataTools"`
	SuspiciousTools   int          `json:"suspiciousTools"`
	Issues            []AlertIssue `json:"issues"`
	Reasons           []string     `json:"reasons"`
	Summary           string       `json:"summary"`
	Timestamp         time.Time    `json:"timestamp"`
}
