// Package domain defines the core business types shared across catalogd.
// These types represent the catalog's data model, not HTTP or SQL specifics.
//
// Domain types carry json tags because they are directly serialized in API
// responses and persisted run reports. When the API shape diverges from the
// domain type, a response struct lives in the api package instead (see
// statusResponse in api/automation.go).
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrInvalidJobKind indicates a job kind outside the known set.
	ErrInvalidJobKind = errors.New("invalid job kind")

	// ErrRecordChanged indicates a catalog record disappeared or was modified
	// between a read and a guarded write.
	ErrRecordChanged = errors.New("catalog record changed or removed")

	// ErrNotFound indicates a lookup by key found nothing.
	ErrNotFound = errors.New("not found")
)

// CatalogRecord is one entry in the tool directory.
type CatalogRecord struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Category         string     `json:"category"`
	Website          string     `json:"website"`
	Source           string     `json:"source,omitempty"`
	Rating           float64    `json:"rating"`
	ReviewCount      int        `json:"review_count"`
	WeeklyUsers      int        `json:"weekly_users"`
	Growth           string     `json:"growth"`
	TrendingScore    *float64   `json:"trending_score"`
	DataQualityFixed bool       `json:"data_quality_fixed"`
	AutoFixedAt      *time.Time `json:"auto_fixed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Category is a catalog category with its record count.
type Category struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// RecordPatch is a partial catalog record. Nil fields are left untouched.
type RecordPatch struct {
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
	WeeklyUsers *int     `json:"weekly_users,omitempty"`
	Growth      *string  `json:"growth,omitempty"`
}

// Empty reports whether the patch sets no field.
func (p RecordPatch) Empty() bool {
	return p.Rating == nil && p.ReviewCount == nil && p.WeeklyUsers == nil && p.Growth == nil
}

// Apply returns a copy of rec with the patch fields applied.
func (p RecordPatch) Apply(rec CatalogRecord) CatalogRecord {
	if p.Rating != nil {
		rec.Rating = *p.Rating
	}
	if p.ReviewCount != nil {
		rec.ReviewCount = *p.ReviewCount
	}
	if p.WeeklyUsers != nil {
		rec.WeeklyUsers = *p.WeeklyUsers
	}
	if p.Growth != nil {
		rec.Growth = *p.Growth
	}
	return rec
}

// Candidate is a record proposed by the upstream discovery producer.
type Candidate struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Website     string  `json:"website"`
	Source      string  `json:"source"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	WeeklyUsers int     `json:"weekly_users"`
	Growth      string  `json:"growth"`
}

// UpsertResult reports whether a candidate created a new record.
type UpsertResult struct {
	ID      string
	Created bool
}

// JobKind identifies an orchestrator job.
type JobKind string

const (
	JobDiscovery     JobKind = "discovery"
	JobRefresh       JobKind = "refresh"
	JobManualRefresh JobKind = "manual-refresh"
)

// JobKinds lists every known job kind.
var JobKinds = []JobKind{JobDiscovery, JobRefresh, JobManualRefresh}

// ParseJobKind validates s as a job kind.
func ParseJobKind(s string) (JobKind, error) {
	switch JobKind(s) {
	case JobDiscovery, JobRefresh, JobManualRefresh:
		return JobKind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidJobKind, s)
}

// SyncType is the value written to the report "type" field and the broadcast event.
func (k JobKind) SyncType() string {
	switch k {
	case JobDiscovery:
		return "full-sync"
	case JobManualRefresh:
		return "manual-refresh"
	default:
		return "refresh"
	}
}

// RunState is the lifecycle state of a job kind.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
	RunStateNoData    RunState = "no-data"
)

// Content streams refreshed by orchestrator jobs.
const (
	StreamTools = "tools"
	StreamNews  = "news"
)

// StreamCount is either an item count or the literal "refreshed".
type StreamCount struct {
	N         int
	Refreshed bool
}

// Count returns a numeric StreamCount.
func Count(n int) StreamCount { return StreamCount{N: n} }

// Refreshed returns the "refreshed" StreamCount.
func Refreshed() StreamCount { return StreamCount{Refreshed: true} }

func (c StreamCount) MarshalJSON() ([]byte, error) {
	if c.Refreshed {
		return []byte(`"refreshed"`), nil
	}
	return []byte(strconv.Itoa(c.N)), nil
}

func (c *StreamCount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "refreshed" {
			return fmt.Errorf("stream count: unexpected string %q", s)
		}
		*c = Refreshed()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("stream count: %w", err)
	}
	*c = Count(n)
	return nil
}

// StreamResult is the outcome of one content stream within a run.
type StreamResult struct {
	Success bool        `json:"success"`
	Count   StreamCount `json:"count"`
	Errors  []string    `json:"errors"`
}

// RunSummary breaks a run's catalog writes down.
type RunSummary struct {
	NewTools     int `json:"newTools"`
	UpdatedTools int `json:"updatedTools"`
	Errors       int `json:"errors"`
}

// RunReport is the persisted outcome of one orchestrator job execution.
// A report for a kind is replaced as a whole, never merged.
type RunReport struct {
	RunID      string         `json:"runId"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       JobKind        `json:"-"`
	Success    bool           `json:"success"`
	ItemsFound int            `json:"itemsFound"`
	ItemsAdded int            `json:"itemsAdded"`
	Errors     []string       `json:"errors"`
	DurationMs int64          `json:"duration"`
	Tools      *StreamResult  `json:"tools,omitempty"`
	News       *StreamResult  `json:"news,omitempty"`
	Summary    RunSummary     `json:"summary"`
	Sources    map[string]int `json:"sources,omitempty"`
	Categories map[string]int `json:"categories,omitempty"`
}

// MarshalJSON writes the report's type as the sync type ("full-sync" for discovery)
// while keeping the job kind round-trippable.
func (r RunReport) MarshalJSON() ([]byte, error) {
	type plain RunReport
	return json.Marshal(struct {
		plain
		Type    string  `json:"type"`
		JobKind JobKind `json:"jobKind"`
	}{plain: plain(r), Type: r.Kind.SyncType(), JobKind: r.Kind})
}

func (r *RunReport) UnmarshalJSON(data []byte) error {
	type plain RunReport
	var aux struct {
		plain
		Type    string  `json:"type"`
		JobKind JobKind `json:"jobKind"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = RunReport(aux.plain)
	r.Kind = aux.JobKind
	return nil
}

// RunStatus is the answer to a status query for one job kind.
type RunStatus struct {
	Kind    JobKind    `json:"kind"`
	State   RunState   `json:"state"`
	Stale   bool       `json:"stale"`
	Running bool       `json:"running"`
	Report  *RunReport `json:"report,omitempty"`
}

// RunAccepted acknowledges a TriggerRun call.
type RunAccepted struct {
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	SyncEnabled    bool      `json:"syncEnabled"`
	Kind           JobKind   `json:"kind"`
	RunID          string    `json:"runId,omitempty"`
	AlreadyRunning bool      `json:"alreadyRunning"`
}

// SyncEvent is the payload published on the broadcast channel after a run.
type SyncEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ContentMarker records when a content type was last refreshed.
type ContentMarker struct {
	ContentType string    `json:"contentType"`
	UpdatedAt   time.Time `json:"updatedAt"`
	RunKind     JobKind   `json:"runKind"`
}

// Setting is a single named configuration value.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Well-known setting keys.
const (
	SettingAutoRefreshEnabled  = "auto_refresh_enabled"
	SettingAutoRefreshSchedule = "auto_refresh_schedule"
	SettingQualityConfig       = "quality_config"
)

// JobLease is a store-level exclusivity lease for one job kind.
type JobLease struct {
	Kind        JobKind   `json:"kind"`
	Holder      string    `json:"holder"`
	RunID       string    `json:"runId"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	HeartbeatAt time.Time `json:"heartbeatAt"`
}
