package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tallyhq/survey-server-go/internal/middleware"
	"github.com/tallyhq/survey-server-go/internal/model"
	"github.com/tallyhq/survey-server-go/internal/service"
)

// CampaignHandler exposes the question catalog.
type CampaignHandler struct {
	campaignService *service.CampaignService
}

func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{campaignService: campaignService}
}

func (h *CampaignHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{slug}", h.Get)
	r.Patch("/{slug}/flags", h.UpdateFlags)
	r.Get("/{slug}/questions", h.Questions)
	r.Post("/{slug}/questions", h.AddQuestion)

	return r
}

// POST /v1/campaigns
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Slug        string  `json:"slug"`
		Title       string  `json:"title"`
		Description *string `json:"description,omitempty"`
		IsActive    bool    `json:"isActive"`
		IsCommons   bool    `json:"isCommons"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	campaign, err := h.campaignService.Create(r.Context(), account, model.CreateCampaignParams{
		Slug:        req.Slug,
		Title:       req.Title,
		Description: req.Description,
		IsActive:    req.IsActive,
		IsCommons:   req.IsCommons,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

// GET /v1/campaigns?active=true
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	activeOnly := r.URL.Query().Get("active") == "true"

	campaigns, err := h.campaignService.List(r.Context(), activeOnly, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"campaigns": campaigns,
		"total":     len(campaigns),
	})
}

// GET /v1/campaigns/{slug}
func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.campaignService.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

// PATCH /v1/campaigns/{slug}/flags
func (h *CampaignHandler) UpdateFlags(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req model.UpdateCampaignFlagsParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	campaign, err := h.campaignService.UpdateFlags(r.Context(), account, chi.URLParam(r, "slug"), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

// GET /v1/campaigns/{slug}/questions
func (h *CampaignHandler) Questions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.campaignService.Questions(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"questions": questions,
		"total":     len(questions),
	})
}

// POST /v1/campaigns/{slug}/questions
func (h *CampaignHandler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Path          string  `json:"path"`
		Text          string  `json:"text"`
		DefaultUnitID int64   `json:"defaultUnitId"`
		CorrectAnswer *string `json:"correctAnswer,omitempty"`
		Rank          int     `json:"rank"`
		Required      bool    `json:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}

	question, err := h.campaignService.AddQuestion(r.Context(), account, chi.URLParam(r, "slug"),
		model.CreateQuestionParams{
			Path:          req.Path,
			Text:          req.Text,
			DefaultUnitID: req.DefaultUnitID,
			CorrectAnswer: req.CorrectAnswer,
			Rank:          req.Rank,
			Required:      req.Required,
		})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, question)
}
