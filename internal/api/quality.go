package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/quality"
)

// MountQualityRoutes registers the quality config and on-demand pass endpoints.
func MountQualityRoutes(r chi.Router, srv *Server) {
	r.Get("/quality/config", srv.HandleGetQualityConfig)
	r.Put("/quality/config", srv.HandlePutQualityConfig)
	r.Post("/quality/run", srv.HandleRunQualityPass)
}

// HandleGetQualityConfig returns the persisted config, or the defaults when
// none was saved.
func (s *Server) HandleGetQualityConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := quality.LoadConfig(r.Context(), s.Settings)
	if err != nil {
		internalError(w, r, "failed to load quality config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandlePutQualityConfig merges the body onto the current config, so fields
// left out keep their value.
func (s *Server) HandlePutQualityConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := quality.LoadConfig(ctx, s.Settings)
	if err != nil {
		internalError(w, r, "failed to load quality config", err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		errorJSON(w, "invalid request body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		errorJSON(w, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	raw, err := cfg.Encode()
	if err != nil {
		internalError(w, r, "failed to encode quality config", err)
		return
	}
	if err := s.Settings.PutSetting(ctx, domain.SettingQualityConfig, raw); err != nil {
		internalError(w, r, "failed to save quality config", err)
		return
	}
	LoggerFromContext(ctx).Info("quality: config updated",
		"auto_fix", cfg.AutoFix, "min_quality_score", cfg.MinQualityScore)
	writeJSON(w, http.StatusOK, cfg)
}

// HandleRunQualityPass runs one pass synchronously with the persisted
// config. ?autoFix= overrides the persisted auto-fix flag for this pass only.
func (s *Server) HandleRunQualityPass(w http.ResponseWriter, r *http.Request) {
	if s.Quality == nil {
		errorJSON(w, "quality engine is not configured", "UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	cfg, err := quality.LoadConfig(ctx, s.Settings)
	if err != nil {
		internalError(w, r, "failed to load quality config", err)
		return
	}
	if v := r.URL.Query().Get("autoFix"); v != "" {
		autoFix, err := cast.ToBoolE(v)
		if err != nil {
			errorJSON(w, "autoFix must be a boolean", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		cfg.AutoFix = autoFix
	}

	report, err := s.Quality.RunQualityPass(ctx, cfg)
	if err != nil {
		internalError(w, r, "quality pass failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
