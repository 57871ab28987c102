package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/internal/services"
	"github.com/pulse-sentiment/apiserver/internal/store"
	"github.com/pulse-sentiment/apiserver/types"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// AnalysesHandler serves the saved analyses of the authenticated user.
type AnalysesHandler struct {
	analyses *services.AnalysisService
	users    UserLookup
	validate *requestValidator
	logger   logging.Logger
}

func NewAnalysesHandler(analyses *services.AnalysisService, users UserLookup, logger logging.Logger) *AnalysesHandler {
	return &AnalysesHandler{
		analyses: analyses,
		users:    users,
		validate: newRequestValidator(),
		logger:   logger,
	}
}

// AnalysesRouter registers analysis history routes. Every route requires
// authMiddleware; limiter, when set, throttles new analyses.
func AnalysesRouter(r chi.Router, handler *AnalysesHandler, authMiddleware func(http.Handler) http.Handler, limiter *RateLimiter) {
	r.Use(authMiddleware)
	if limiter != nil {
		r.With(limiter.Middleware).Post("/", handler.CreateAnalysis)
	} else {
		r.Post("/", handler.CreateAnalysis)
	}
	r.Get("/", handler.ListAnalyses)
	r.Get("/{analysisID}", handler.GetAnalysis)
}

func (h *AnalysesHandler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	req, ok := decodeSearchRequest(w, r, h.validate)
	if !ok {
		return
	}

	analysis, err := h.analyses.Run(r.Context(), user.ID, req.Query, req.MaxResults)
	if err != nil {
		h.logger.WithError(err).WithFields(logging.Fields{
			"user_id": user.ID,
			"query":   req.Query,
		}).Error("run analysis")
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, analysis)
}

func (h *AnalysesHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.analyses.List(r.Context(), user.ID, offset, limit)
	if err != nil {
		h.logger.WithError(err).Error("list analyses")
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	if items == nil {
		items = []types.Analysis{}
	}

	writeJSON(w, http.StatusOK, AnalysisListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *AnalysesHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "analysisID"))
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid analysis id")
		return
	}

	analysis, err := h.analyses.Get(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch analysis")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// AnalysisListResponse is the paginated list response payload.
type AnalysisListResponse struct {
	Items []types.Analysis `json:"items"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
	Total int              `json:"total"`
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, errors.New("invalid page")
		}
	}

	rawLimit := strings.TrimSpace(r.URL.Query().Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(r.URL.Query().Get("per_page"))
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}
