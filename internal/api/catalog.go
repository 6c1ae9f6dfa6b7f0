package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/toolscout/catalogd/internal/cache"
	"github.com/toolscout/catalogd/internal/domain"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500

	defaultTrendingLimit = 10
	maxTrendingLimit     = 50
)

// MountCatalogRoutes registers the cached catalog read views.
func MountCatalogRoutes(r chi.Router, srv *Server) {
	r.Get("/tools", srv.HandleListTools)
	r.Get("/tools/{id}", srv.HandleGetTool)
	r.Get("/categories", srv.HandleListCategories)
	r.Get("/trending", srv.HandleTrending)
}

// parsePagination reads limit and offset from the query string.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, maxPageLimit)
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

// serveView answers from the view cache, or renders, stores and writes the
// body on a miss. Only successful renders are cached.
func (s *Server) serveView(w http.ResponseWriter, r *http.Request, view, key string, render func() (any, error)) {
	if s.Views != nil {
		if body, ok := s.Views.Get(view, key); ok {
			writeCachedJSON(w, body, true)
			return
		}
	}

	v, err := render()
	if errors.Is(err, domain.ErrNotFound) {
		errorJSON(w, view+" not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if err != nil {
		internalError(w, r, "failed to load "+view, err)
		return
	}

	body, err := json.Marshal(v)
	if err != nil {
		internalError(w, r, "failed to encode "+view, err)
		return
	}
	if s.Views != nil {
		s.Views.Set(view, key, body)
	}
	writeCachedJSON(w, body, false)
}

// HandleListTools lists catalog records, optionally filtered by ?category=
// and a case-insensitive ?q= over name and description.
func (s *Server) HandleListTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	search := strings.ToLower(strings.TrimSpace(q.Get("q")))
	limit, offset := parsePagination(r)
	key := strings.Join([]string{category, search, strconv.Itoa(limit), strconv.Itoa(offset)}, "|")

	s.serveView(w, r, cache.ViewTools, key, func() (any, error) {
		records, err := s.Catalog.ListRecords(r.Context())
		if err != nil {
			return nil, err
		}
		matched := make([]domain.CatalogRecord, 0, len(records))
		for _, rec := range records {
			if category != "" && rec.Category != category {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(rec.Name), search) &&
				!strings.Contains(strings.ToLower(rec.Description), search) {
				continue
			}
			matched = append(matched, rec)
		}
		return map[string]any{
			"tools": paginate(matched, limit, offset),
			"total": len(matched),
		}, nil
	})
}

// HandleGetTool returns one record by id.
func (s *Server) HandleGetTool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.serveView(w, r, cache.ViewToolDetail, id, func() (any, error) {
		return s.Catalog.GetRecord(r.Context(), id)
	})
}

// HandleListCategories returns every category with its record count.
func (s *Server) HandleListCategories(w http.ResponseWriter, r *http.Request) {
	s.serveView(w, r, cache.ViewCategories, "all", func() (any, error) {
		cats, err := s.Catalog.ListCategories(r.Context())
		if err != nil {
			return nil, err
		}
		if cats == nil {
			cats = []domain.Category{}
		}
		return map[string]any{"categories": cats}, nil
	})
}

// HandleTrending returns the top records by trending score, ?limit= capped
// at maxTrendingLimit.
func (s *Server) HandleTrending(w http.ResponseWriter, r *http.Request) {
	limit := defaultTrendingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errorJSON(w, "limit must be a positive integer", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTrendingLimit)
	}

	s.serveView(w, r, cache.ViewTrending, strconv.Itoa(limit), func() (any, error) {
		top, err := s.Catalog.TopTrending(r.Context(), limit)
		if err != nil {
			return nil, err
		}
		if top == nil {
			top = []domain.CatalogRecord{}
		}
		return map[string]any{"tools": top}, nil
	})
}
