package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pulse-sentiment/apiserver/internal/apperr"
	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/internal/metrics"
	"github.com/pulse-sentiment/apiserver/internal/sentiment"
	"github.com/pulse-sentiment/apiserver/types"
)

const (
	defaultTwitterBaseURL = "https://api.twitter.com"
	defaultTwitterTimeout = 15 * time.Second
	recentSearchPath      = "/2/tweets/search/recent"
	tweetFields           = "created_at,public_metrics"
	maxSearchBody         = 4 << 20
)

// Searcher retrieves posts matching a query and classifies each one.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]types.AnalyzedPost, error)
}

// BreakerConfig controls the circuit breaker in front of the provider.
// A zero Failures disables the breaker.
type BreakerConfig struct {
	Failures   uint
	Executions uint
	Delay      time.Duration
}

// DefaultBreakerConfig opens after 5 failures in 10 calls and lets a trial call through after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 5, Executions: 10, Delay: 30 * time.Second}
}

// TwitterConfig configures the recent-search client.
type TwitterConfig struct {
	BaseURL       string
	BearerToken   string
	Timeout       time.Duration
	HTTPClient    *http.Client
	FailurePolicy FailurePolicy
	Breaker       BreakerConfig
}

// TwitterClient searches the v2 recent-search API and classifies the results.
type TwitterClient struct {
	endpoint   string
	token      string
	client     *http.Client
	policy     FailurePolicy
	classifier sentiment.Classifier
	normalizer *textNormalizer
	breaker    circuitbreaker.CircuitBreaker[*searchResponse]
	logger     logging.Logger
	recorder   metrics.Recorder
}

func NewTwitterClient(cfg TwitterConfig, classifier sentiment.Classifier, logger logging.Logger, recorder metrics.Recorder) *TwitterClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultTwitterBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTwitterTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &TwitterClient{
		endpoint:   baseURL + recentSearchPath,
		token:      cfg.BearerToken,
		client:     client,
		policy:     cfg.FailurePolicy,
		classifier: classifier,
		normalizer: newTextNormalizer(),
		breaker:    newBreaker(cfg.Breaker, logger),
		logger:     logger,
		recorder:   recorder,
	}
}

func newBreaker(cfg BreakerConfig, logger logging.Logger) circuitbreaker.CircuitBreaker[*searchResponse] {
	if cfg.Failures == 0 {
		return nil
	}
	executions := cfg.Executions
	if executions < cfg.Failures {
		executions = cfg.Failures
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = 30 * time.Second
	}

	return circuitbreaker.NewBuilder[*searchResponse]().
		HandleIf(func(_ *searchResponse, err error) bool {
			return err != nil && !isClientError(err)
		}).
		WithFailureThresholdRatio(cfg.Failures, executions).
		WithDelay(delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"circuit_breaker": "twitter",
				"from_state":      stateName(event.OldState),
				"to_state":        stateName(event.NewState),
			}).Warn("circuit breaker state change")
		}).
		Build()
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

type searchResponse struct {
	Data []tweet `json:"data"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

type tweet struct {
	ID            string              `json:"id"`
	Text          string              `json:"text"`
	CreatedAt     time.Time           `json:"created_at"`
	PublicMetrics types.PublicMetrics `json:"public_metrics"`
}

// providerError is a non-2xx answer from the search API.
type providerError struct {
	Status int
	Body   string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("search provider returned %d: %s", e.Status, e.Body)
}

// isClientError reports rejections caused by the request itself, which say
// nothing about provider health. 429 counts against the provider.
func isClientError(err error) bool {
	var pe *providerError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Status >= 400 && pe.Status < 500 && pe.Status != http.StatusTooManyRequests
}

// Search fetches recent posts for query and classifies them in provider order.
// Zero matches yield an empty slice. maxResults <= 0 lets the provider choose.
func (c *TwitterClient) Search(ctx context.Context, query string, maxResults int) ([]types.AnalyzedPost, error) {
	start := time.Now()
	posts, err := c.search(ctx, query, maxResults)
	c.recorder.RecordSearch(len(posts), time.Since(start), err)
	return posts, err
}

func (c *TwitterClient) search(ctx context.Context, query string, maxResults int) ([]types.AnalyzedPost, error) {
	resp, err := c.fetch(ctx, query, maxResults)
	if err != nil {
		return nil, apperr.New(apperr.SearchFailed, "search", err)
	}

	posts := make([]types.AnalyzedPost, 0, len(resp.Data))
	for _, t := range resp.Data {
		result, err := c.classify(ctx, t.Text)
		if err != nil {
			if c.policy == FailurePolicySkip {
				c.logger.WithError(err).WithField("tweet_id", t.ID).Warn("skipping post that could not be classified")
				continue
			}
			return nil, err
		}
		posts = append(posts, types.AnalyzedPost{
			ID:             t.ID,
			Text:           t.Text,
			CreatedAt:      t.CreatedAt,
			Metrics:        t.PublicMetrics,
			SentimentScore: result.Score,
			SentimentLabel: result.Label,
		})
	}
	return posts, nil
}

// classify runs the classifier on the normalised text. Every failure,
// including a post that normalises to nothing, is a ClassificationFailed.
func (c *TwitterClient) classify(ctx context.Context, text string) (types.Sentiment, error) {
	result, err := c.classifier.Classify(ctx, c.normalizer.Normalize(text))
	if err != nil {
		if apperr.IsKind(err, apperr.ClassificationFailed) {
			return types.Sentiment{}, err
		}
		return types.Sentiment{}, apperr.New(apperr.ClassificationFailed, "classify post", err)
	}
	return result, nil
}

func (c *TwitterClient) fetch(ctx context.Context, query string, maxResults int) (*searchResponse, error) {
	if c.breaker == nil {
		return c.doFetch(ctx, query, maxResults)
	}
	return failsafe.With(c.breaker).WithContext(ctx).Get(func() (*searchResponse, error) {
		return c.doFetch(ctx, query, maxResults)
	})
}

func (c *TwitterClient) doFetch(ctx context.Context, query string, maxResults int) (*searchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("tweet.fields", tweetFields)
	if maxResults > 0 {
		params.Set("max_results", strconv.Itoa(maxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &providerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}
