package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolscout/catalogd/internal/api"
	"github.com/toolscout/catalogd/internal/domain"
)

// memoryMode clears the backend variables so commands fall back to the
// in-memory stores, and restores the default logger afterwards.
func memoryMode(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "REDIS_ADDR", "S3_ENDPOINT", "CATALOGD_CONFIG", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

// --- version ---

func TestVersion_PrintsBuildInfo(t *testing.T) {
	out, _, err := run(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "catalogd "+api.Version)
	assert.Contains(t, out, "commit")
}

// --- trigger ---

func TestTrigger_DiscoveryWait_PrintsCompletedStatus(t *testing.T) {
	memoryMode(t)

	out, logs, err := run(t, "trigger", "discovery", "--wait")

	require.NoError(t, err, logs)
	var st domain.RunStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, domain.RunStateCompleted, st.State)
	require.NotNil(t, st.Report)
	assert.True(t, st.Report.Success)
	assert.Positive(t, st.Report.ItemsFound)
}

func TestTrigger_LogsGoToStderr(t *testing.T) {
	memoryMode(t)

	out, logs, err := run(t, "trigger", "refresh", "--wait")

	require.NoError(t, err)
	assert.NotContains(t, out, `"level"`)
	assert.Contains(t, logs, `"level":"INFO"`)
}

func TestTrigger_UnknownKind_Errors(t *testing.T) {
	memoryMode(t)

	_, _, err := run(t, "trigger", "rebuild")

	assert.Error(t, err)
}

func TestTrigger_MissingKind_Errors(t *testing.T) {
	_, _, err := run(t, "trigger")

	assert.Error(t, err)
}

// --- quality-pass ---

func TestQualityPass_JSON_EmptyCatalog(t *testing.T) {
	memoryMode(t)

	out, logs, err := run(t, "quality-pass", "--json")

	require.NoError(t, err, logs)
	var report domain.QualityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.TotalRecords)
	assert.Zero(t, report.FixesApplied)
}

func TestQualityPass_Summary(t *testing.T) {
	memoryMode(t)

	out, _, err := run(t, "quality-pass", "--auto-fix")

	require.NoError(t, err)
	assert.Contains(t, out, "quality score")
	assert.Contains(t, out, "fixes applied 0")
}

func TestQualityPass_BadLogLevel_Errors(t *testing.T) {
	memoryMode(t)

	_, _, err := run(t, "quality-pass", "--log-level", "loud")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestQualityPass_MissingConfigFile_Errors(t *testing.T) {
	memoryMode(t)

	_, _, err := run(t, "quality-pass", "--config", t.TempDir()+"/nope.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

// --- healthcheck ---

func TestHealthcheck_Healthy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	_, _, err := run(t, "healthcheck", "--url", ts.URL+"/health")

	assert.NoError(t, err)
}

func TestHealthcheck_Unhealthy_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, _, err := run(t, "healthcheck", "--url", ts.URL+"/health")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

// --- wiring ---

func TestBuildApp_MemoryDefaults(t *testing.T) {
	memoryMode(t)
	cfg, err := loadConfig(&GlobalOpts{}, &bytes.Buffer{})
	require.NoError(t, err)

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	assert.Nil(t, a.pool)
	assert.Nil(t, a.rdb)
	assert.Nil(t, a.archive)
	assert.Empty(t, a.health)
	assert.NotNil(t, a.orch)
	assert.NotNil(t, a.engine)
	assert.NotNil(t, a.rateLimiter())
}

func TestNewRand_FixedSeedIsDeterministic(t *testing.T) {
	a, b := newRand(42), newRand(42)

	for range 5 {
		assert.Equal(t, a.Uint64(), b.Uint64())
	}
}
