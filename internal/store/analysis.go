package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pulse-sentiment/apiserver/types"
)

// AnalysisRepository handles persistence for analyses and their posts.
type AnalysisRepository struct {
	db *sqlx.DB
}

func NewAnalysisRepository(db *sqlx.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

type analysisRow struct {
	ID           int             `db:"id"`
	UserID       int             `db:"user_id"`
	Query        string          `db:"query"`
	CreatedAt    time.Time       `db:"created_at"`
	Total        int             `db:"total"`
	Positive     int             `db:"positive"`
	Negative     int             `db:"negative"`
	AverageScore sql.NullFloat64 `db:"average_score"`
}

func (row analysisRow) toAnalysis() types.Analysis {
	return types.Analysis{
		ID:        row.ID,
		UserID:    row.UserID,
		Query:     row.Query,
		CreatedAt: row.CreatedAt,
		Summary: types.AnalysisSummary{
			Total:        row.Total,
			Positive:     row.Positive,
			Negative:     row.Negative,
			AverageScore: row.AverageScore.Float64,
		},
	}
}

type postRow struct {
	TweetID        string       `db:"tweet_id"`
	Text           string       `db:"text"`
	CreatedAt      sql.NullTime `db:"created_at"`
	RetweetCount   int          `db:"retweet_count"`
	ReplyCount     int          `db:"reply_count"`
	LikeCount      int          `db:"like_count"`
	QuoteCount     int          `db:"quote_count"`
	SentimentScore float64      `db:"sentiment_score"`
	SentimentLabel string       `db:"sentiment_label"`
}

func (row postRow) toPost() types.AnalyzedPost {
	return types.AnalyzedPost{
		ID:        row.TweetID,
		Text:      row.Text,
		CreatedAt: row.CreatedAt.Time,
		Metrics: types.PublicMetrics{
			RetweetCount: row.RetweetCount,
			ReplyCount:   row.ReplyCount,
			LikeCount:    row.LikeCount,
			QuoteCount:   row.QuoteCount,
		},
		SentimentScore: row.SentimentScore,
		SentimentLabel: row.SentimentLabel,
	}
}

// Create stores an analysis and its posts in a single transaction. A post
// id repeated by the provider is kept at its first position only.
func (r *AnalysisRepository) Create(ctx context.Context, analysis types.Analysis) (types.Analysis, error) {
	analysis.Posts = uniquePosts(analysis.Posts)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.Analysis{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertAnalysis = `
		INSERT INTO analyses (user_id, query)
		VALUES ($1, $2)
		RETURNING id, created_at`
	if err := tx.QueryRowxContext(ctx, insertAnalysis, analysis.UserID, analysis.Query).
		Scan(&analysis.ID, &analysis.CreatedAt); err != nil {
		return types.Analysis{}, fmt.Errorf("insert analysis: %w", err)
	}

	const insertPost = `
		INSERT INTO tweets (
			analysis_id, position, tweet_id, text, created_at,
			retweet_count, reply_count, like_count, quote_count,
			sentiment_score, sentiment_label
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for i, post := range analysis.Posts {
		var createdAt sql.NullTime
		if !post.CreatedAt.IsZero() {
			createdAt = sql.NullTime{Time: post.CreatedAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insertPost,
			analysis.ID,
			i,
			post.ID,
			post.Text,
			createdAt,
			post.Metrics.RetweetCount,
			post.Metrics.ReplyCount,
			post.Metrics.LikeCount,
			post.Metrics.QuoteCount,
			post.SentimentScore,
			post.SentimentLabel,
		); err != nil {
			return types.Analysis{}, fmt.Errorf("insert post %s: %w", post.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Analysis{}, err
	}

	analysis.Summary = types.Summarize(analysis.Posts)
	return analysis, nil
}

// List returns a page of the user's analyses, newest first, with per-label counts.
func (r *AnalysisRepository) List(ctx context.Context, userID, offset, limit int) ([]types.Analysis, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM analyses WHERE user_id = $1`, userID); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT a.id, a.user_id, a.query, a.created_at,
			COUNT(t.id) AS total,
			COUNT(t.id) FILTER (WHERE t.sentiment_label = 'POSITIVE') AS positive,
			COUNT(t.id) FILTER (WHERE t.sentiment_label = 'NEGATIVE') AS negative,
			AVG(t.sentiment_score) AS average_score
		FROM analyses a
		LEFT JOIN tweets t ON t.analysis_id = a.id
		WHERE a.user_id = $1
		GROUP BY a.id
		ORDER BY a.id DESC
		OFFSET $2 LIMIT $3`
	var rows []analysisRow
	if err := r.db.SelectContext(ctx, &rows, listQuery, userID, offset, limit); err != nil {
		return nil, 0, err
	}

	analyses := make([]types.Analysis, 0, len(rows))
	for _, row := range rows {
		analyses = append(analyses, row.toAnalysis())
	}
	return analyses, total, nil
}

// Get returns one of the user's analyses with its posts in provider order.
// Analyses owned by other users are reported as ErrNotFound.
func (r *AnalysisRepository) Get(ctx context.Context, userID, id int) (types.Analysis, error) {
	const analysisQuery = `
		SELECT id, user_id, query, created_at
		FROM analyses
		WHERE id = $1 AND user_id = $2`
	var row analysisRow
	if err := r.db.GetContext(ctx, &row, analysisQuery, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Analysis{}, ErrNotFound
		}
		return types.Analysis{}, err
	}

	const postsQuery = `
		SELECT tweet_id, text, created_at, retweet_count, reply_count, like_count, quote_count,
			sentiment_score, sentiment_label
		FROM tweets
		WHERE analysis_id = $1
		ORDER BY position`
	var postRows []postRow
	if err := r.db.SelectContext(ctx, &postRows, postsQuery, id); err != nil {
		return types.Analysis{}, err
	}

	analysis := row.toAnalysis()
	analysis.Posts = make([]types.AnalyzedPost, 0, len(postRows))
	for _, p := range postRows {
		analysis.Posts = append(analysis.Posts, p.toPost())
	}
	analysis.Summary = types.Summarize(analysis.Posts)
	return analysis, nil
}

func uniquePosts(posts []types.AnalyzedPost) []types.AnalyzedPost {
	seen := make(map[string]struct{}, len(posts))
	unique := make([]types.AnalyzedPost, 0, len(posts))
	for _, post := range posts {
		if _, ok := seen[post.ID]; ok {
			continue
		}
		seen[post.ID] = struct{}{}
		unique = append(unique, post)
	}
	return unique
}
