package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tallyhq/survey-server-go/internal/middleware"
	"github.com/tallyhq/survey-server-go/internal/model"
	"github.com/tallyhq/survey-server-go/internal/service"
)

// SampleHandler exposes measurement sessions and answer collection.
type SampleHandler struct {
	sampleService *service.SampleService
}

func NewSampleHandler(sampleService *service.SampleService) *SampleHandler {
	return &SampleHandler{sampleService: sampleService}
}

func (h *SampleHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.ListOwn)
	r.Get("/accessible", h.ListAccessible)
	r.Get("/{slug}", h.Get)
	r.Get("/{slug}/answers", h.Answers)
	r.Post("/{slug}/answers", h.RecordAnswer)
	r.Post("/{slug}/baseline", h.RecordBaseline)
	r.Post("/{slug}/freeze", h.Freeze)
	r.Post("/{slug}/reset", h.Reset)

	return r
}

// POST /v1/samples
func (h *SampleHandler) Create(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Campaign *string `json:"campaign,omitempty"`
		Extra    *string `json:"extra,omitempty"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	sample, err := h.sampleService.Create(r.Context(), account, req.Campaign, req.Extra)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sample)
}

// GET /v1/samples
func (h *SampleHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	p := ParsePagination(r)
	samples, err := h.sampleService.ListOwn(r.Context(), account, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"samples": samples,
		"total":   len(samples),
	})
}

// GET /v1/samples/accessible
// Frozen samples other accounts have shared with the caller.
func (h *SampleHandler) ListAccessible(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	p := ParsePagination(r)
	samples, err := h.sampleService.ListAccessible(r.Context(), account, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"samples": samples,
		"total":   len(samples),
	})
}

// GET /v1/samples/{slug}
func (h *SampleHandler) Get(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	sample, err := h.sampleService.Get(r.Context(), account, chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sample)
}

// GET /v1/samples/{slug}/answers
func (h *SampleHandler) Answers(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	answers, err := h.sampleService.Answers(r.Context(), account, chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answers": answers,
		"total":   len(answers),
	})
}

// POST /v1/samples/{slug}/answers
// Record one datapoint against a question path, converting units as needed.
// Blank freetext input withdraws the answer.
func (h *SampleHandler) RecordAnswer(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		QuestionPath string `json:"questionPath"`
		model.Datapoint
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.QuestionPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "questionPath is required"})
		return
	}

	answer, err := h.sampleService.RecordAnswer(r.Context(), account,
		chi.URLParam(r, "slug"), req.QuestionPath, req.Datapoint)
	if err != nil {
		writeError(w, err)
		return
	}
	if answer == nil {
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// POST /v1/samples/{slug}/baseline
// Zero-valued answer carrying the baseline date of a relative series.
func (h *SampleHandler) RecordBaseline(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		QuestionPath string     `json:"questionPath"`
		CreatedAt    *time.Time `json:"createdAt,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.QuestionPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "questionPath is required"})
		return
	}

	at := time.Now()
	if req.CreatedAt != nil {
		at = *req.CreatedAt
	}

	answer, err := h.sampleService.RecordBaseline(r.Context(), account,
		chi.URLParam(r, "slug"), req.QuestionPath, at)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// POST /v1/samples/{slug}/freeze?force=true
func (h *SampleHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	force := r.URL.Query().Get("force") == "true"
	sample, err := h.sampleService.Freeze(r.Context(), account, chi.URLParam(r, "slug"), force)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sample)
}

// POST /v1/samples/{slug}/reset
func (h *SampleHandler) Reset(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	count, err := h.sampleService.Reset(r.Context(), account, chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": count,
	})
}
