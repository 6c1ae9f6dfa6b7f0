package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"

	"github.com/toolscout/catalogd/internal/domain"
)

// Control actions accepted by POST /api/v1/automation.
const (
	ActionRunAutomation         = "run-automation"
	ActionRefreshData           = "refresh-data"
	ActionToggleAutoRefresh     = "toggle-auto-refresh"
	ActionGetAutomationSettings = "get-automation-settings"
)

// automationRequest is the control body. Enabled is coerced with cast so
// UIs may send true, "true" or 1.
type automationRequest struct {
	Action  string `json:"action"`
	Enabled any    `json:"enabled"`
}

type toggleResponse struct {
	Message   string    `json:"message"`
	Enabled   bool      `json:"enabled"`
	Timestamp time.Time `json:"timestamp"`
}

type settingsResponse struct {
	Settings  []domain.Setting `json:"settings"`
	Timestamp time.Time        `json:"timestamp"`
}

type statusSettings struct {
	AutoRefreshEnabled bool `json:"autoRefreshEnabled"`
}

// statusResponse is the operator status view of one job kind. Status is
// "no-data" until the kind has a report, then "completed" or "failed"
// after the latest report. An in-flight run only sets Running.
type statusResponse struct {
	Status      string               `json:"status"`
	Kind        domain.JobKind       `json:"kind"`
	Running     bool                 `json:"running"`
	Stale       bool                 `json:"stale"`
	Success     *bool                `json:"success,omitempty"`
	LastRun     *time.Time           `json:"lastRun,omitempty"`
	RunID       string               `json:"runId,omitempty"`
	ToolsFound  *int                 `json:"toolsFound,omitempty"`
	ToolsAdded  *int                 `json:"toolsAdded,omitempty"`
	Summary     *domain.RunSummary   `json:"summary,omitempty"`
	Sources     map[string]int       `json:"sources,omitempty"`
	Categories  map[string]int       `json:"categories,omitempty"`
	Errors      []string             `json:"errors,omitempty"`
	Duration    *int64               `json:"duration,omitempty"`
	Tools       *domain.StreamResult `json:"tools,omitempty"`
	News        *domain.StreamResult `json:"news,omitempty"`
	LastUpdated map[string]time.Time `json:"lastUpdated,omitempty"`
	Settings    statusSettings       `json:"settings"`
	Timestamp   time.Time            `json:"timestamp"`
}

// MountAutomationRoutes registers the operator control and status endpoints.
func MountAutomationRoutes(r chi.Router, srv *Server) {
	r.Post("/automation", srv.HandleAutomation)
	r.Get("/automation/status", srv.HandleAutomationStatus)
}

// invalidAction is the one control-surface error with a fixed shape.
func invalidAction(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action"})
}

// HandleAutomation dispatches a control action. Job failures surface later
// through the status endpoint, never here.
func (s *Server) HandleAutomation(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		invalidAction(w)
		return
	}

	switch req.Action {
	case ActionRunAutomation:
		s.trigger(w, r, domain.JobDiscovery)
	case ActionRefreshData:
		s.trigger(w, r, domain.JobManualRefresh)
	case ActionToggleAutoRefresh:
		s.toggleAutoRefresh(w, r, req.Enabled)
	case ActionGetAutomationSettings:
		settings, err := s.Orchestrator.Settings(r.Context())
		if err != nil {
			internalError(w, r, "failed to load automation settings", err)
			return
		}
		writeJSON(w, http.StatusOK, settingsResponse{Settings: settings, Timestamp: time.Now().UTC()})
	default:
		invalidAction(w)
	}
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, kind domain.JobKind) {
	acc, err := s.Orchestrator.TriggerRun(r.Context(), kind)
	if err != nil {
		internalError(w, r, "failed to start "+string(kind), err)
		return
	}
	LoggerFromContext(r.Context()).Info("automation: run requested",
		"kind", kind, "run_id", acc.RunID, "already_running", acc.AlreadyRunning)
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) toggleAutoRefresh(w http.ResponseWriter, r *http.Request, raw any) {
	enabled, err := cast.ToBoolE(raw)
	if err != nil {
		errorJSON(w, "enabled must be a boolean", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if err := s.Orchestrator.ToggleAutoRefresh(r.Context(), enabled); err != nil {
		internalError(w, r, "failed to toggle auto-refresh", err)
		return
	}
	msg := "Auto-refresh disabled"
	if enabled {
		msg = "Auto-refresh enabled"
	}
	writeJSON(w, http.StatusOK, toggleResponse{Message: msg, Enabled: enabled, Timestamp: time.Now().UTC()})
}

// HandleAutomationStatus reports the latest outcome for ?kind= (default
// discovery). A kind that never ran is "no-data", not an error.
func (s *Server) HandleAutomationStatus(w http.ResponseWriter, r *http.Request) {
	kindParam := r.URL.Query().Get("kind")
	if kindParam == "" {
		kindParam = string(domain.JobDiscovery)
	}
	kind, err := domain.ParseJobKind(kindParam)
	if err != nil {
		errorJSON(w, "kind must be discovery, refresh or manual-refresh", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	log := LoggerFromContext(ctx)
	st, err := s.Orchestrator.GetStatus(ctx, kind)
	if err != nil {
		log.Error("automation: status unavailable", "kind", kind, "error", err)
		errorJSON(w, "run status is temporarily unavailable", "UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}

	resp := statusResponse{
		Status:    string(st.State),
		Kind:      kind,
		Running:   st.Running,
		Stale:     st.Stale,
		Timestamp: time.Now().UTC(),
	}
	if rep := st.Report; rep != nil {
		resp.Success = &rep.Success
		resp.LastRun = &rep.Timestamp
		resp.RunID = rep.RunID
		resp.ToolsFound = &rep.ItemsFound
		resp.ToolsAdded = &rep.ItemsAdded
		resp.Summary = &rep.Summary
		resp.Sources = rep.Sources
		resp.Categories = rep.Categories
		resp.Errors = rep.Errors
		resp.Duration = &rep.DurationMs
		resp.Tools = rep.Tools
		resp.News = rep.News
	}

	enabled, err := s.Orchestrator.AutoRefreshEnabled(ctx)
	if err != nil {
		log.Warn("automation: auto-refresh setting unavailable", "error", err)
	}
	resp.Settings.AutoRefreshEnabled = enabled

	if s.Markers != nil {
		markers, err := s.Markers.ListMarkers(ctx)
		if err != nil {
			log.Warn("automation: content markers unavailable", "error", err)
		}
		for _, m := range markers {
			if resp.LastUpdated == nil {
				resp.LastUpdated = make(map[string]time.Time, len(markers))
			}
			resp.LastUpdated[m.ContentType] = m.UpdatedAt
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
