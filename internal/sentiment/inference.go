package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pulse-sentiment/apiserver/internal/apperr"
	"github.com/pulse-sentiment/apiserver/internal/metrics"
	"github.com/pulse-sentiment/apiserver/types"
)

const (
	defaultInferenceBaseURL = "https://api-inference.huggingface.co"
	defaultModel            = "distilbert-base-uncased-finetuned-sst-2-english"
	defaultInferenceTimeout = 30 * time.Second
	maxResponseBytes        = 1 << 20
)

// InferenceConfig configures the hosted text-classification endpoint.
type InferenceConfig struct {
	BaseURL    string
	Model      string
	APIToken   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// InferenceClassifier calls a Hugging Face style text-classification endpoint.
type InferenceClassifier struct {
	endpoint string
	model    string
	token    string
	client   *http.Client
	recorder metrics.Recorder
}

func NewInferenceClassifier(cfg InferenceConfig, recorder metrics.Recorder) *InferenceClassifier {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultInferenceBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultInferenceTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &InferenceClassifier{
		endpoint: baseURL + "/models/" + url.PathEscape(model),
		model:    model,
		token:    cfg.APIToken,
		client:   client,
		recorder: recorder,
	}
}

// Model returns the configured model identifier.
func (c *InferenceClassifier) Model() string {
	return c.model
}

type inferenceRequest struct {
	Inputs  string           `json:"inputs"`
	Options inferenceOptions `json:"options"`
}

type inferenceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// Classify sends text to the model. Blank text returns types.ErrEmptyText;
// every other failure is an apperr.ClassificationFailed.
func (c *InferenceClassifier) Classify(ctx context.Context, text string) (types.Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return types.Sentiment{}, types.ErrEmptyText
	}

	result, err := c.classify(ctx, text)
	c.recorder.RecordClassification(result.Label, err)
	if err != nil {
		return types.Sentiment{}, apperr.New(apperr.ClassificationFailed, "classify", err)
	}
	return result, nil
}

func (c *InferenceClassifier) classify(ctx context.Context, text string) (types.Sentiment, error) {
	body, err := json.Marshal(inferenceRequest{
		Inputs:  text,
		Options: inferenceOptions{WaitForModel: true},
	})
	if err != nil {
		return types.Sentiment{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.Sentiment{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return types.Sentiment{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return types.Sentiment{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.Sentiment{}, fmt.Errorf("model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	scores, err := decodeScores(payload)
	if err != nil {
		return types.Sentiment{}, err
	}
	top, ok := pickTop(scores)
	if !ok {
		return types.Sentiment{}, errors.New("model returned no scores")
	}
	label := normalizeLabel(top.Label)
	if !types.ValidLabel(label) {
		return types.Sentiment{}, fmt.Errorf("model returned unknown label %q", top.Label)
	}
	return types.Sentiment{Label: label, Score: top.Score}, nil
}

// decodeScores accepts both the batched [[...]] and flat [...] response shapes.
func decodeScores(payload []byte) ([]Score, error) {
	var batched [][]Score
	if err := json.Unmarshal(payload, &batched); err == nil {
		if len(batched) == 0 {
			return nil, nil
		}
		return batched[0], nil
	}

	var flat []Score
	if err := json.Unmarshal(payload, &flat); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	return flat, nil
}
