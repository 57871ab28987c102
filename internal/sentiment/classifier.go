// Package sentiment classifies text into a closed set of sentiment labels.
package sentiment

import (
	"context"
	"strings"

	"github.com/pulse-sentiment/apiserver/types"
)

// Classifier returns the winning sentiment label for text and its probability.
type Classifier interface {
	Classify(ctx context.Context, text string) (types.Sentiment, error)
}

// Score is one label/probability pair emitted by a model.
type Score struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// pickTop returns the highest-scoring entry. Ties keep the first entry in
// model output order.
func pickTop(scores []Score) (Score, bool) {
	if len(scores) == 0 {
		return Score{}, false
	}
	top := scores[0]
	for _, s := range scores[1:] {
		if s.Score > top.Score {
			top = s
		}
	}
	return top, true
}

func normalizeLabel(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}
