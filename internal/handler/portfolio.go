package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/tallyhq/survey-server-go/internal/errors"
	"github.com/tallyhq/survey-server-go/internal/middleware"
	"github.com/tallyhq/survey-server-go/internal/model"
	"github.com/tallyhq/survey-server-go/internal/repository"
	"github.com/tallyhq/survey-server-go/internal/service"
)

// PortfolioHandler exposes the double opt-in state machine, the resulting
// portfolio grants, and answer resolution.
type PortfolioHandler struct {
	optInService      *service.OptInService
	resolutionService *service.ResolutionService
	accountRepo       repository.AccountRepository
}

func NewPortfolioHandler(
	optInService *service.OptInService,
	resolutionService *service.ResolutionService,
	accountRepo repository.AccountRepository,
) *PortfolioHandler {
	return &PortfolioHandler{
		optInService:      optInService,
		resolutionService: resolutionService,
		accountRepo:       accountRepo,
	}
}

func (h *PortfolioHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/grants", h.CreateGrant)
	r.Post("/requests", h.CreateRequest)
	r.Get("/optins/pending", h.ListPending)
	r.Get("/optins/initiated", h.ListInitiated)
	r.Post("/optins/{id}/accept", h.Accept)
	r.Post("/optins/{id}/deny", h.Deny)
	r.Delete("/optins/{id}", h.Retire)
	r.Get("/granted", h.ListGranted)
	r.Get("/received", h.ListReceived)
	r.Get("/resolve", h.Resolve)

	return r
}

// VerifyRoutes are mounted without authentication. The verification key in
// the URL is the credential.
func (h *PortfolioHandler) VerifyRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{key}/accept", h.AcceptByKey)
	r.Post("/{key}/deny", h.DenyByKey)

	return r
}

// POST /verify/{key}/accept
func (h *PortfolioHandler) AcceptByKey(w http.ResponseWriter, r *http.Request) {
	optin, err := h.optInService.AcceptByKey(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatOptIn(optin))
}

// POST /verify/{key}/deny
func (h *PortfolioHandler) DenyByKey(w http.ResponseWriter, r *http.Request) {
	optin, err := h.optInService.DenyByKey(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatOptIn(optin))
}

type createOptInRequest struct {
	Slug         string     `json:"slug,omitempty"`
	Email        string     `json:"email,omitempty"`
	FullName     string     `json:"fullName,omitempty"`
	CampaignSlug *string    `json:"campaign,omitempty"`
	Message      *string    `json:"message,omitempty"`
	EndsAt       *time.Time `json:"endsAt,omitempty"`
}

func (req *createOptInRequest) toInput() service.CreateOptInInput {
	ref := model.AccountRef{
		Slug:     req.Slug,
		FullName: req.FullName,
	}
	if req.Email != "" {
		ref.Email = &req.Email
	}
	return service.CreateOptInInput{
		Other:        ref,
		CampaignSlug: req.CampaignSlug,
		Message:      req.Message,
		EndsAt:       req.EndsAt,
	}
}

// POST /v1/portfolios/grants
// Offer the caller's answers to a counterparty identified by slug or email.
func (h *PortfolioHandler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req createOptInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	optin, err := h.optInService.CreateGrant(r.Context(), account, req.toInput())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatOptIn(optin))
}

// POST /v1/portfolios/requests
// Ask a counterparty for access to its answers.
func (h *PortfolioHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req createOptInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	optin, err := h.optInService.CreateRequest(r.Context(), account, req.toInput())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatOptIn(optin))
}

// GET /v1/portfolios/optins/pending
func (h *PortfolioHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	p := ParsePagination(r)
	optins, err := h.optInService.ListPending(r.Context(), account, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatOptIns(optins))
}

// GET /v1/portfolios/optins/initiated
func (h *PortfolioHandler) ListInitiated(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	p := ParsePagination(r)
	state := model.OptInState(r.URL.Query().Get("state"))
	optins, err := h.optInService.ListInitiated(r.Context(), account, state, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatOptIns(optins))
}

// DELETE /v1/portfolios/optins/{id}
// The initiator withdraws a pending grant or request.
func (h *PortfolioHandler) Retire(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperrors.InvalidInput("id", "must be an integer"))
		return
	}

	if err := h.optInService.Retire(r.Context(), id, account); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// POST /v1/portfolios/optins/{id}/accept
func (h *PortfolioHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.optInService.Accept)
}

// POST /v1/portfolios/optins/{id}/deny
func (h *PortfolioHandler) Deny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.optInService.Deny)
}

func (h *PortfolioHandler) decide(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, id int64, actor *model.Account) (*model.PortfolioDoubleOptIn, error),
) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperrors.InvalidInput("id", "must be an integer"))
		return
	}

	optin, err := fn(r.Context(), id, account)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatOptIn(optin))
}

// GET /v1/portfolios/granted
func (h *PortfolioHandler) ListGranted(w http.ResponseWriter, r *http.Request) {
	h.listPortfolios(w, r, h.optInService.ListGranted)
}

// GET /v1/portfolios/received
func (h *PortfolioHandler) ListReceived(w http.ResponseWriter, r *http.Request) {
	h.listPortfolios(w, r, h.optInService.ListReceived)
}

func (h *PortfolioHandler) listPortfolios(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, account *model.Account, limit, offset int) ([]model.Portfolio, error),
) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	p := ParsePagination(r)
	portfolios, err := fn(r.Context(), account, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	formatted := make([]map[string]any, len(portfolios))
	for i, portfolio := range portfolios {
		formatted[i] = formatPortfolio(portfolio)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"portfolios": formatted,
		"total":      len(portfolios),
	})
}

// GET /v1/portfolios/resolve?account={slug}&campaign={slug}
// Tells the caller what to do about a counterparty's answers: create a new
// request, ask for an update, or read what is already shared.
func (h *PortfolioHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	ownerSlug := r.URL.Query().Get("account")
	if ownerSlug == "" {
		writeError(w, apperrors.MissingRequired("account"))
		return
	}

	owner, err := h.accountRepo.FindBySlug(r.Context(), ownerSlug)
	if err != nil {
		log.Error().Err(err).Str("account", ownerSlug).Msg("resolve: account lookup failed")
		writeError(w, apperrors.Database(err))
		return
	}
	if owner == nil {
		writeError(w, apperrors.NotFound("Account"))
		return
	}

	var campaignSlug *string
	if c := r.URL.Query().Get("campaign"); c != "" {
		campaignSlug = &c
	}

	res, err := h.resolutionService.Resolve(r.Context(), account.ID, owner.ID, campaignSlug)
	if err != nil {
		writeError(w, err)
		return
	}

	out := map[string]any{
		"action": res.Action,
		"endsAt": formatTime(res.EndsAt),
	}
	if res.Sample != nil {
		out["sample"] = res.Sample
	}

	writeJSON(w, http.StatusOK, out)
}

func formatOptIns(optins []model.PortfolioDoubleOptIn) map[string]any {
	formatted := make([]map[string]any, len(optins))
	for i := range optins {
		formatted[i] = formatOptIn(&optins[i])
	}
	return map[string]any{
		"optins": formatted,
		"total":  len(optins),
	}
}
