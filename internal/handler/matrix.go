package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tallyhq/survey-server-go/internal/model"
	"github.com/tallyhq/survey-server-go/internal/service"
)

// MatrixHandler exposes editable filters, benchmark matrices and their
// computed scores.
type MatrixHandler struct {
	matrixService *service.MatrixService
}

func NewMatrixHandler(matrixService *service.MatrixService) *MatrixHandler {
	return &MatrixHandler{matrixService: matrixService}
}

func (h *MatrixHandler) FilterRoutes() chi.Router {
	r := chi.NewRouter()

	r.Put("/{slug}", h.UpsertFilter)
	r.Get("/", h.ListFilters)
	r.Get("/{slug}", h.GetFilter)
	r.Delete("/{slug}", h.DeleteFilter)

	return r
}

func (h *MatrixHandler) MatrixRoutes() chi.Router {
	r := chi.NewRouter()

	r.Put("/{slug}", h.UpsertMatrix)
	r.Get("/", h.ListMatrices)
	r.Get("/{slug}", h.GetMatrix)
	r.Delete("/{slug}", h.DeleteMatrix)
	r.Get("/{slug}/scores", h.Scores)

	return r
}

// PUT /v1/filters/{slug}
func (h *MatrixHandler) UpsertFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title      string                    `json:"title"`
		Tags       string                    `json:"tags"`
		Predicates []model.EditablePredicate `json:"predicates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	f, err := h.matrixService.UpsertFilter(r.Context(), model.UpsertFilterParams{
		Slug:       chi.URLParam(r, "slug"),
		Title:      req.Title,
		Tags:       req.Tags,
		Predicates: req.Predicates,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// GET /v1/filters
func (h *MatrixHandler) ListFilters(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	filters, err := h.matrixService.ListFilters(r.Context(), p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filters": filters,
		"total":   len(filters),
	})
}

// GET /v1/filters/{slug}
func (h *MatrixHandler) GetFilter(w http.ResponseWriter, r *http.Request) {
	f, err := h.matrixService.GetFilter(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// DELETE /v1/filters/{slug}
func (h *MatrixHandler) DeleteFilter(w http.ResponseWriter, r *http.Request) {
	if err := h.matrixService.DeleteFilter(r.Context(), chi.URLParam(r, "slug")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// PUT /v1/matrices/{slug}
func (h *MatrixHandler) UpsertMatrix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string   `json:"title"`
		Metric  *string  `json:"metric,omitempty"`
		Cohorts []string `json:"cohorts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	m, err := h.matrixService.UpsertMatrix(r.Context(), model.UpsertMatrixParams{
		Slug:        chi.URLParam(r, "slug"),
		Title:       req.Title,
		MetricSlug:  req.Metric,
		CohortSlugs: req.Cohorts,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// GET /v1/matrices
func (h *MatrixHandler) ListMatrices(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	matrices, err := h.matrixService.ListMatrices(r.Context(), p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"matrices": matrices,
		"total":    len(matrices),
	})
}

// GET /v1/matrices/{slug}
func (h *MatrixHandler) GetMatrix(w http.ResponseWriter, r *http.Request) {
	m, err := h.matrixService.GetMatrix(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// DELETE /v1/matrices/{slug}
func (h *MatrixHandler) DeleteMatrix(w http.ResponseWriter, r *http.Request) {
	if err := h.matrixService.DeleteMatrix(r.Context(), chi.URLParam(r, "slug")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// GET /v1/matrices/{slug}/scores
func (h *MatrixHandler) Scores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.matrixService.Scores(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scores)
}
