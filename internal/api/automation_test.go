package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolscout/catalogd/internal/domain"
)

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}

// --- POST /api/v1/automation ---

func TestAutomation_RunAutomation_TriggersDiscovery(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/v1/automation", `{"action":"run-automation"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec.Body.Bytes())
	assert.Equal(t, true, body["syncEnabled"])
	assert.Equal(t, "discovery", body["kind"])
	assert.Equal(t, false, body["alreadyRunning"])
	assert.NotEmpty(t, body["message"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, []domain.JobKind{domain.JobDiscovery}, env.orch.triggeredKinds())
}

func TestAutomation_RefreshData_TriggersManualRefresh(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/v1/automation", `{"action":"refresh-data"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "manual-refresh", decode(t, rec.Body.Bytes())["kind"])
	assert.Equal(t, []domain.JobKind{domain.JobManualRefresh}, env.orch.triggeredKinds())
}

func TestAutomation_TriggerWhileRunning_StillOK(t *testing.T) {
	env := newTestEnv()
	env.do(http.MethodPost, "/api/v1/automation", `{"action":"run-automation"}`)

	rec := env.do(http.MethodPost, "/api/v1/automation", `{"action":"run-automation"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec.Body.Bytes())["alreadyRunning"])
}

func TestAutomation_UnknownAction_Returns400(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/v1/automation", `{"action":"explode"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid action"}`, rec.Body.String())
	assert.Empty(t, env.orch.triggeredKinds())
}

func TestAutomation_MalformedBody_Returns400(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/v1/automation", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid action"}`, rec.Body.String())
}

func TestAutomation_ToggleAutoRefresh_AcceptsCoercibleValues(t *testing.T) {
	for _, tc := range []struct {
		body string
		want bool
	}{
		{`{"action":"toggle-auto-refresh","enabled":true}`, true},
		{`{"action":"toggle-auto-refresh","enabled":"true"}`, true},
		{`{"action":"toggle-auto-refresh","enabled":1}`, true},
		{`{"action":"toggle-auto-refresh","enabled":false}`, false},
		{`{"action":"toggle-auto-refresh"}`, false},
	} {
		t.Run(tc.body, func(t *testing.T) {
			env := newTestEnv()
			env.orch.enabled = !tc.want

			rec := env.do(http.MethodPost, "/api/v1/automation", tc.body)

			require.Equal(t, http.StatusOK, rec.Code)
			body := decode(t, rec.Body.Bytes())
			assert.Equal(t, tc.want, body["enabled"])
			assert.NotEmpty(t, body["message"])
			enabled, _ := env.orch.AutoRefreshEnabled(context.Background())
			assert.Equal(t, tc.want, enabled)
		})
	}
}

func TestAutomation_ToggleAutoRefresh_GarbageValue_Returns400(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/v1/automation", `{"action":"toggle-auto-refresh","enabled":"maybe"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")
}

func TestAutomation_ToggleAutoRefresh_StoreError_Returns500(t *testing.T) {
	env := newTestEnv()
	env.orch.toggleErr = errBoom

	rec := env.do(http.MethodPost, "/api/v1/automation", `{"action":"toggle-auto-refresh","enabled":true}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestAutomation_GetSettings_ReturnsList(t *testing.T) {
	env := newTestEnv()
	env.orch.settings = []domain.Setting{
		{Key: domain.SettingAutoRefreshEnabled, Value: "true"},
		{Key: domain.SettingAutoRefreshSchedule, Value: "0 */6 * * *"},
	}

	rec := env.do(http.MethodPost, "/api/v1/automation", `{"action":"get-automation-settings"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Settings  []domain.Setting `json:"settings"`
		Timestamp time.Time        `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Settings, 2)
	assert.False(t, body.Timestamp.IsZero())
}

// --- GET /api/v1/automation/status ---

func TestStatus_NoReport_NoData(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodGet, "/api/v1/automation/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec.Body.Bytes())
	assert.Equal(t, "no-data", body["status"])
	assert.Equal(t, "discovery", body["kind"])
	assert.NotContains(t, body, "lastRun")
	assert.Equal(t, map[string]any{"autoRefreshEnabled": false}, body["settings"])
}

func TestStatus_CompletedReport_Flattened(t *testing.T) {
	env := newTestEnv()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	env.orch.enabled = true
	env.orch.status[domain.JobRefresh] = domain.RunStatus{
		Kind:  domain.JobRefresh,
		State: domain.RunStateCompleted,
		Stale: true,
		Report: &domain.RunReport{
			RunID: "r1", Kind: domain.JobRefresh, Timestamp: at, Success: true,
			ItemsFound: 7, Errors: []string{}, DurationMs: 1200,
			Tools: &domain.StreamResult{Success: true, Count: domain.Count(7), Errors: []string{}},
			News:  &domain.StreamResult{Success: true, Count: domain.Refreshed(), Errors: []string{}},
		},
	}
	require.NoError(t, env.markers.UpsertMarker(context.Background(),
		domain.ContentMarker{ContentType: domain.StreamTools, UpdatedAt: at, RunKind: domain.JobRefresh}))

	rec := env.do(http.MethodGet, "/api/v1/automation/status?kind=refresh", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec.Body.Bytes())
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["stale"])
	assert.Equal(t, float64(7), body["toolsFound"])
	assert.Equal(t, float64(1200), body["duration"])
	assert.Equal(t, "2026-05-01T12:00:00Z", body["lastRun"])
	assert.Equal(t, map[string]any{"tools": "2026-05-01T12:00:00Z"}, body["lastUpdated"])
	assert.Equal(t, "refreshed", body["news"].(map[string]any)["count"])
	assert.Equal(t, map[string]any{"autoRefreshEnabled": true}, body["settings"])
}

func TestStatus_RunningWithPreviousReport_KeepsPreviousOutcome(t *testing.T) {
	env := newTestEnv()
	env.orch.status[domain.JobDiscovery] = domain.RunStatus{
		Kind:    domain.JobDiscovery,
		State:   domain.RunStateFailed,
		Running: true,
		Report: &domain.RunReport{
			RunID: "r0", Kind: domain.JobDiscovery, Timestamp: time.Now().UTC(),
			Errors: []string{"discovery source unreachable"},
		},
	}

	rec := env.do(http.MethodGet, "/api/v1/automation/status?kind=discovery", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec.Body.Bytes())
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, true, body["running"])
	assert.Equal(t, false, body["success"])
	assert.Equal(t, []any{"discovery source unreachable"}, body["errors"])
}

func TestStatus_InvalidKind_Returns400(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodGet, "/api/v1/automation/status?kind=nightly", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus_StoreUnavailable_Returns503Envelope(t *testing.T) {
	env := newTestEnv()
	env.orch.statusErr = errBoom

	rec := env.do(http.MethodGet, "/api/v1/automation/status", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"UNAVAILABLE"`)
}
