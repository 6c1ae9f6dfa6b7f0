package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolscout/catalogd/internal/api"
	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/quality"
)

// --- /api/v1/quality/config ---

func TestQualityConfig_NothingSaved_Defaults(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodGet, "/api/v1/quality/config", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var cfg quality.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, quality.DefaultConfig(), cfg)
}

func TestQualityConfig_PartialPut_MergesAndPersists(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPut, "/api/v1/quality/config", `{"autoFix":true,"minQualityScore":80}`)

	require.Equal(t, http.StatusOK, rec.Code)
	want := quality.DefaultConfig()
	want.AutoFix = true
	want.MinQualityScore = 80

	raw, err := env.settings.GetSetting(context.Background(), domain.SettingQualityConfig)
	require.NoError(t, err)
	saved, err := quality.ParseConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, want, saved)

	rec = env.do(http.MethodGet, "/api/v1/quality/config", "")
	var got quality.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, want, got)
}

func TestQualityConfig_OutOfRange_Returns400(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPut, "/api/v1/quality/config", `{"maxMockDataPct":140}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "maxMockDataPct")
	_, err := env.settings.GetSetting(context.Background(), domain.SettingQualityConfig)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQualityConfig_MalformedBody_Returns400(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPut, "/api/v1/quality/config", `[1,2`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQualityConfig_NoSettingsStore_NotMounted(t *testing.T) {
	env := newTestEnv()
	env.srv.Settings = nil
	env.router = api.NewRouter(env.srv)

	rec := env.do(http.MethodGet, "/api/v1/quality/config", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- POST /api/v1/quality/run ---

func TestQualityRun_UsesPersistedConfig(t *testing.T) {
	env := newTestEnv()
	cfg := quality.DefaultConfig()
	cfg.MaxErrorsPerRecord = 5
	raw, _ := cfg.Encode()
	require.NoError(t, env.settings.PutSetting(context.Background(), domain.SettingQualityConfig, raw))

	rec := env.do(http.MethodPost, "/api/v1/quality/run", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(100), decode(t, rec.Body.Bytes())["qualityScore"])
	require.Len(t, env.quality.cfgs, 1)
	assert.Equal(t, 5, env.quality.cfgs[0].MaxErrorsPerRecord)
	assert.False(t, env.quality.cfgs[0].AutoFix)
}

func TestQualityRun_AutoFixOverride(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/v1/quality/run?autoFix=true", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.quality.cfgs, 1)
	assert.True(t, env.quality.cfgs[0].AutoFix)
}

func TestQualityRun_BadOverride_Returns400(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/v1/quality/run?autoFix=sometimes", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.quality.cfgs)
}

func TestQualityRun_EngineError_Returns500(t *testing.T) {
	env := newTestEnv()
	env.quality.err = errBoom

	rec := env.do(http.MethodPost, "/api/v1/quality/run", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestQualityRun_NoEngine_Returns503(t *testing.T) {
	env := newTestEnv()
	env.srv.Quality = nil
	env.router = api.NewRouter(env.srv)

	rec := env.do(http.MethodPost, "/api/v1/quality/run", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
