package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/types"
)

// AnalysisRepository defines persistence operations for analyses.
type AnalysisRepository interface {
	Create(ctx context.Context, analysis types.Analysis) (types.Analysis, error)
	List(ctx context.Context, userID, offset, limit int) ([]types.Analysis, int, error)
	Get(ctx context.Context, userID, id int) (types.Analysis, error)
}

// Searcher retrieves and classifies social posts.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]types.AnalyzedPost, error)
}

// EventPublisher publishes analysis events to a channel.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// AnalysisService runs searches on behalf of users and stores the results.
type AnalysisService struct {
	repo      AnalysisRepository
	searcher  Searcher
	publisher EventPublisher
	channel   string
	logger    logging.Logger
}

// NewAnalysisService constructs the service. publisher may be nil.
func NewAnalysisService(repo AnalysisRepository, searcher Searcher, publisher EventPublisher, channel string, logger logging.Logger) *AnalysisService {
	return &AnalysisService{
		repo:      repo,
		searcher:  searcher,
		publisher: publisher,
		channel:   channel,
		logger:    logger,
	}
}

// Run searches for query, stores the analyzed posts and announces the result.
// A failed announcement is logged and does not fail the run.
func (s *AnalysisService) Run(ctx context.Context, userID int, query string, maxResults int) (types.Analysis, error) {
	posts, err := s.searcher.Search(ctx, query, maxResults)
	if err != nil {
		return types.Analysis{}, err
	}

	analysis, err := s.repo.Create(ctx, types.Analysis{
		UserID: userID,
		Query:  query,
		Posts:  posts,
	})
	if err != nil {
		return types.Analysis{}, fmt.Errorf("store analysis: %w", err)
	}

	s.publishCompleted(ctx, analysis)
	return analysis, nil
}

func (s *AnalysisService) List(ctx context.Context, userID, offset, limit int) ([]types.Analysis, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, userID, offset, limit)
}

func (s *AnalysisService) Get(ctx context.Context, userID, id int) (types.Analysis, error) {
	return s.repo.Get(ctx, userID, id)
}

func (s *AnalysisService) publishCompleted(ctx context.Context, analysis types.Analysis) {
	if s.publisher == nil || s.channel == "" {
		return
	}

	data, err := json.Marshal(types.AnalysisCompletedEvent{
		AnalysisID: analysis.ID,
		UserID:     analysis.UserID,
		Query:      analysis.Query,
		PostCount:  len(analysis.Posts),
		CreatedAt:  analysis.CreatedAt,
	})
	if err != nil {
		s.logger.WithError(err).Error("marshal analysis event")
		return
	}

	attrs := map[string]string{
		"event":       "analysis.completed",
		"analysis_id": strconv.Itoa(analysis.ID),
	}
	messageID, err := s.publisher.Publish(ctx, s.channel, data, attrs)
	if err != nil {
		s.logger.WithError(err).WithField("analysis_id", analysis.ID).Warn("publish analysis event failed")
		return
	}
	s.logger.WithFields(logging.Fields{
		"analysis_id": analysis.ID,
		"message_id":  messageID,
	}).Debug("published analysis event")
}
