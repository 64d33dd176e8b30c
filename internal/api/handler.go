package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"first-issue-service/internal/cache"
	apperrors "first-issue-service/internal/errors"
	"first-issue-service/internal/model"
)

// IssueReader is the read-only slice of the store the listing endpoints use.
type IssueReader interface {
	GetIssue(ctx context.Context, id int64) (*model.Issue, error)
	ListIssues(ctx context.Context, filters model.IssueFilters, page model.Pagination) ([]model.Issue, int, error)
}

// LifecycleService is the claim lifecycle surface exposed over HTTP.
type LifecycleService interface {
	Claim(ctx context.Context, issueID, userID int64) (*model.ClaimResult, error)
	Release(ctx context.Context, issueID, userID int64, force bool) (*model.ReleaseResult, error)
	Extend(ctx context.Context, issueID, userID int64, days int, justification string) (*model.ExtensionResult, error)
	SweepExpired(ctx context.Context) (*model.SweepResult, error)
	ExpiringSoon(ctx context.Context, hoursThreshold int) ([]model.Issue, error)
}

// SyncService triggers reconciliation runs.
type SyncService interface {
	Sync(ctx context.Context, repositoryIDs []int64) (*model.SyncResult, error)
}

// TrackerService exposes the tracker facts the request layer needs.
type TrackerService interface {
	ValidatePullRequest(ctx context.Context, prURL, expectedUser string) (*model.PRValidation, error)
	RateLimitStatus() *model.RateLimitInfo
}

// Handler is the container for API dependencies.
type Handler struct {
	store     IssueReader
	cache     cache.Cache
	lifecycle LifecycleService
	syncer    SyncService
	tracker   TrackerService
	logger    *slog.Logger
	cacheTTL  time.Duration
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(st IssueReader, c cache.Cache, lc LifecycleService, sync SyncService, tracker TrackerService, logger *slog.Logger, cacheTTL time.Duration) http.Handler {
	h := &Handler{
		store:     st,
		cache:     c,
		lifecycle: lc,
		syncer:    sync,
		tracker:   tracker,
		logger:    logger,
		cacheTTL:  cacheTTL,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/issues", h.listIssues)
		r.Get("/issues/{id}", h.getIssue)
		r.Post("/issues/{id}/claim", h.claimIssue)
		r.Post("/issues/{id}/release", h.releaseIssue)
		r.Post("/issues/{id}/extend", h.extendClaim)
		r.Post("/claims/sweep", h.sweepExpired)
		r.Get("/claims/expiring", h.expiringClaims)
		r.Post("/sync", h.syncRepositories)
		r.Post("/pull-requests/validate", h.validatePullRequest)
		r.Get("/rate-limit", h.rateLimit)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listIssues serves the filtered, paginated issue listing, memoized in the
// cache. GET /v1/issues?status=&difficulty=&language=&repository_id=&page=&page_size=
func (h *Handler) listIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := positiveIntParam(q.Get("page"), 1)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'page' parameter")
		return
	}
	pageSize, err := positiveIntParam(q.Get("page_size"), 20)
	if err != nil || pageSize > 100 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'page_size' parameter. Must be an integer between 1 and 100.")
		return
	}

	filters := model.IssueFilters{}
	if v := q.Get("status"); v != "" {
		status := model.IssueStatus(v)
		filters.Status = &status
	}
	if v := q.Get("difficulty"); v != "" {
		difficulty := model.Difficulty(v)
		filters.Difficulty = &difficulty
	}
	if v := q.Get("language"); v != "" {
		filters.Language = &v
	}
	if v := q.Get("repository_id"); v != "" {
		repoID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'repository_id' parameter")
			return
		}
		filters.RepositoryID = &repoID
	}

	cacheKey := cache.Key(cache.IssuesPrefix, "filtered", map[string]string{
		"status": q.Get("status"),
		"diff":   q.Get("difficulty"),
		"lang":   q.Get("language"),
		"repo":   q.Get("repository_id"),
		"page":   strconv.Itoa(page),
		"size":   strconv.Itoa(pageSize),
	})
	if cached, ok := h.cache.Get(r.Context(), cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(cached)
		return
	}

	issues, total, err := h.store.ListIssues(r.Context(), filters, model.Pagination{Page: page, PageSize: pageSize})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if issues == nil {
		issues = []model.Issue{}
	}

	payload := map[string]any{
		"issues":    issues,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal issue listing", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.cache.Set(r.Context(), cacheKey, body, h.cacheTTL)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// getIssue serves a single issue. GET /v1/issues/{id}
func (h *Handler) getIssue(w http.ResponseWriter, r *http.Request) {
	issueID, ok := h.issueIDParam(w, r)
	if !ok {
		return
	}
	issue, err := h.store.GetIssue(r.Context(), issueID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, issue)
}

type claimRequest struct {
	UserID int64 `json:"user_id"`
}

// claimIssue leases an issue to a user. POST /v1/issues/{id}/claim
func (h *Handler) claimIssue(w http.ResponseWriter, r *http.Request) {
	issueID, ok := h.issueIDParam(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Request body must contain a positive 'user_id'")
		return
	}

	result, err := h.lifecycle.Claim(r.Context(), issueID, req.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type releaseRequest struct {
	UserID int64 `json:"user_id"`
	Force  bool  `json:"force"`
}

// releaseIssue returns a claimed issue to the pool. POST /v1/issues/{id}/release
func (h *Handler) releaseIssue(w http.ResponseWriter, r *http.Request) {
	issueID, ok := h.issueIDParam(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Request body must contain a positive 'user_id'")
		return
	}

	result, err := h.lifecycle.Release(r.Context(), issueID, req.UserID, req.Force)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type extendRequest struct {
	UserID        int64  `json:"user_id"`
	Days          int    `json:"days"`
	Justification string `json:"justification"`
}

// extendClaim pushes a lease deadline forward. POST /v1/issues/{id}/extend
func (h *Handler) extendClaim(w http.ResponseWriter, r *http.Request) {
	issueID, ok := h.issueIDParam(w, r)
	if !ok {
		return
	}
	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Request body must contain a positive 'user_id' and 'days'")
		return
	}

	result, err := h.lifecycle.Extend(r.Context(), issueID, req.UserID, req.Days, req.Justification)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// sweepExpired reclaims all expired leases. POST /v1/claims/sweep
func (h *Handler) sweepExpired(w http.ResponseWriter, r *http.Request) {
	result, err := h.lifecycle.SweepExpired(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// expiringClaims lists leases expiring within the threshold.
// GET /v1/claims/expiring?hours=24
func (h *Handler) expiringClaims(w http.ResponseWriter, r *http.Request) {
	hours, err := positiveIntParam(r.URL.Query().Get("hours"), 24)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'hours' parameter")
		return
	}

	issues, err := h.lifecycle.ExpiringSoon(r.Context(), hours)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if issues == nil {
		issues = []model.Issue{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"issues": issues, "count": len(issues)})
}

type syncRequest struct {
	RepositoryIDs []int64 `json:"repository_ids"`
}

// syncRepositories triggers a reconciliation run. POST /v1/sync
func (h *Handler) syncRepositories(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	result, err := h.syncer.Sync(r.Context(), req.RepositoryIDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type validatePRRequest struct {
	PRURL        string `json:"pr_url"`
	ExpectedUser string `json:"expected_user"`
}

// validatePullRequest reports facts about a submitted pull request.
// POST /v1/pull-requests/validate
func (h *Handler) validatePullRequest(w http.ResponseWriter, r *http.Request) {
	var req validatePRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PRURL == "" || req.ExpectedUser == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must contain 'pr_url' and 'expected_user'")
		return
	}

	validation, err := h.tracker.ValidatePullRequest(r.Context(), req.PRURL, req.ExpectedUser)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, validation)
}

// rateLimit reports the tracker quota snapshot. GET /v1/rate-limit
func (h *Handler) rateLimit(w http.ResponseWriter, r *http.Request) {
	info := h.tracker.RateLimitStatus()
	if info == nil {
		respondWithJSON(w, http.StatusOK, map[string]any{"known": false})
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}

func (h *Handler) issueIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid issue id")
		return 0, false
	}
	return id, true
}

func positiveIntParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}

// respondError maps an error kind onto an HTTP status and a structured
// failure body. Store errors are logged; their internals stay out of the
// response.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindInvalidState:
		status = http.StatusConflict
	case apperrors.KindForbidden:
		status = http.StatusForbidden
	case apperrors.KindRateLimitExceeded:
		status = http.StatusTooManyRequests
	case apperrors.KindExternalService:
		status = http.StatusBadGateway
	case apperrors.KindStore:
		h.logger.Error("Store failure", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithError(w, status, apperrors.UserMessage(err))
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]any{"success": false, "message": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("Failed to encode response", "error", err)
		}
	}
}
