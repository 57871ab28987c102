package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/types"
)

const defaultMaxResults = 100

// Classifier labels a single text.
type Classifier interface {
	Classify(ctx context.Context, text string) (types.Sentiment, error)
}

// Searcher retrieves and classifies social posts.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]types.AnalyzedPost, error)
}

// AnalyzeHandler serves the stateless analysis endpoints.
type AnalyzeHandler struct {
	classifier Classifier
	searcher   Searcher
	validate   *requestValidator
	logger     logging.Logger
}

func NewAnalyzeHandler(classifier Classifier, searcher Searcher, logger logging.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		classifier: classifier,
		searcher:   searcher,
		validate:   newRequestValidator(),
		logger:     logger,
	}
}

// AnalyzeRouter registers analysis routes on the given router.
func AnalyzeRouter(r chi.Router, handler *AnalyzeHandler) {
	r.Post("/text", handler.AnalyzeText)
	r.Post("/tweets", handler.AnalyzeTweets)
}

func (h *AnalyzeHandler) AnalyzeText(w http.ResponseWriter, r *http.Request) {
	var req TextAnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.classifier.Classify(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, types.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("classify text")
		writeKindError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TextAnalysisResponse{
		Text:           req.Text,
		SentimentScore: result.Score,
		SentimentLabel: result.Label,
	})
}

func (h *AnalyzeHandler) AnalyzeTweets(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSearchRequest(w, r, h.validate)
	if !ok {
		return
	}

	posts, err := h.searcher.Search(r.Context(), req.Query, req.MaxResults)
	if err != nil {
		h.logger.WithError(err).WithField("query", req.Query).Error("search tweets")
		writeKindError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SearchAnalysisResponse{Query: req.Query, Tweets: posts})
}

// decodeSearchRequest parses and validates a search request, applying the
// default result count. It writes the error response when it returns false.
func decodeSearchRequest(w http.ResponseWriter, r *http.Request, v *requestValidator) (SearchAnalysisRequest, bool) {
	var req SearchAnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := v.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if req.MaxResults == 0 {
		req.MaxResults = defaultMaxResults
	}
	return req, true
}

type TextAnalysisRequest struct {
	Text string `json:"text" validate:"required,max=10000"`
}

type TextAnalysisResponse struct {
	Text           string  `json:"text"`
	SentimentScore float64 `json:"sentiment_score"`
	SentimentLabel string  `json:"sentiment_label"`
}

type SearchAnalysisRequest struct {
	Query      string `json:"query" validate:"required,max=512"`
	MaxResults int    `json:"max_results" validate:"gte=0"`
}

type SearchAnalysisResponse struct {
	Query  string               `json:"query"`
	Tweets []types.AnalyzedPost `json:"tweets"`
}
