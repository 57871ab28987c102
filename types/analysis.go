package types

import (
	"errors"
	"time"
)

// Sentiment labels produced by the classifier.
const (
	LabelPositive = "POSITIVE"
	LabelNegative = "NEGATIVE"
)

// ErrEmptyText is returned when a classification is requested for blank text.
var ErrEmptyText = errors.New("text is required")

// ValidLabel reports whether label belongs to the closed label set.
func ValidLabel(label string) bool {
	return label == LabelPositive || label == LabelNegative
}

// Sentiment is the winning class of a classification and its probability.
type Sentiment struct {
	Label string  `json:"sentiment_label"`
	Score float64 `json:"sentiment_score"`
}

// PublicMetrics holds the engagement counters reported by the social provider.
type PublicMetrics struct {
	RetweetCount int `json:"retweet_count" db:"retweet_count"`
	ReplyCount   int `json:"reply_count" db:"reply_count"`
	LikeCount    int `json:"like_count" db:"like_count"`
	QuoteCount   int `json:"quote_count" db:"quote_count"`
}

// AnalyzedPost is a retrieved social post merged with its sentiment.
type AnalyzedPost struct {
	// ID is the provider's identifier for the post.
	ID string `json:"id" db:"tweet_id"`

	// Text is the post body as returned by the provider.
	Text string `json:"text" db:"text"`

	// CreatedAt is the provider-reported creation time of the post.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	Metrics PublicMetrics `json:"metrics"`

	SentimentScore float64 `json:"sentiment_score" db:"sentiment_score"`
	SentimentLabel string  `json:"sentiment_label" db:"sentiment_label"`
}

// Analysis is a persisted search-and-classify run owned by a user.
type Analysis struct {
	// ID is the unique identifier of the analysis.
	ID int `json:"id" db:"id"`

	// UserID references the user who ran the analysis.
	UserID int `json:"user_id" db:"user_id"`

	// Query is the search query submitted to the social provider.
	Query string `json:"query" db:"query"`

	// Summary aggregates the label distribution of Posts.
	Summary AnalysisSummary `json:"summary"`

	// Posts holds the analyzed posts, in provider order.
	Posts []AnalyzedPost `json:"tweets"`

	// CreatedAt is the timestamp when the analysis was stored.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AnalysisSummary counts posts per label.
type AnalysisSummary struct {
	Total        int     `json:"total"`
	Positive     int     `json:"positive"`
	Negative     int     `json:"negative"`
	AverageScore float64 `json:"average_score"`
}

// Summarize computes the label distribution for a set of posts.
func Summarize(posts []AnalyzedPost) AnalysisSummary {
	summary := AnalysisSummary{Total: len(posts)}
	if len(posts) == 0 {
		return summary
	}
	var sum float64
	for _, post := range posts {
		switch post.SentimentLabel {
		case LabelPositive:
			summary.Positive++
		case LabelNegative:
			summary.Negative++
		}
		sum += post.SentimentScore
	}
	summary.AverageScore = sum / float64(len(posts))
	return summary
}

// AnalysisCompletedEvent is published after an analysis has been stored.
type AnalysisCompletedEvent struct {
	AnalysisID int       `json:"analysis_id"`
	UserID     int       `json:"user_id"`
	Query      string    `json:"query"`
	PostCount  int       `json:"post_count"`
	CreatedAt  time.Time `json:"created_at"`
}
