package sentiment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/types"
	goredis "github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 24 * time.Hour

// CachedClassifier memoizes classifications in Redis. Cache failures are
// logged and never fail a classification.
type CachedClassifier struct {
	next      Classifier
	client    goredis.UniversalClient
	namespace string
	ttl       time.Duration
	logger    logging.Logger
}

// NewCachedClassifier wraps next. namespace separates entries produced by different models.
func NewCachedClassifier(next Classifier, client goredis.UniversalClient, namespace string, ttl time.Duration, logger logging.Logger) *CachedClassifier {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedClassifier{
		next:      next,
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *CachedClassifier) Classify(ctx context.Context, text string) (types.Sentiment, error) {
	key := c.key(text)

	if cached, ok := c.lookup(ctx, key); ok {
		return cached, nil
	}

	result, err := c.next.Classify(ctx, text)
	if err != nil {
		return types.Sentiment{}, err
	}

	if data, err := json.Marshal(result); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).Warn("sentiment cache write failed")
		}
	}
	return result, nil
}

func (c *CachedClassifier) lookup(ctx context.Context, key string) (types.Sentiment, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.WithError(err).Warn("sentiment cache read failed")
		}
		return types.Sentiment{}, false
	}

	var cached types.Sentiment
	if err := json.Unmarshal(raw, &cached); err != nil || !types.ValidLabel(cached.Label) {
		return types.Sentiment{}, false
	}
	return cached, true
}

func (c *CachedClassifier) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "sentiment:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}
