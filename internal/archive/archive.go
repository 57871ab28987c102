// Package archive copies completed analyses to object storage.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/internal/mq"
	"github.com/pulse-sentiment/apiserver/internal/store"
	"github.com/pulse-sentiment/apiserver/types"
)

// Subscriber is the consuming half of mq.MQ.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// AnalysisLoader loads a stored analysis for its owner.
type AnalysisLoader interface {
	Get(ctx context.Context, userID, id int) (types.Analysis, error)
}

// ObjectWriter stores a JSON document.
type ObjectWriter interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// Archiver listens for analysis.completed events and writes each analysis
// to analyses/<user_id>/<analysis_id>.json.
type Archiver struct {
	sub     Subscriber
	loader  AnalysisLoader
	objects ObjectWriter
	channel string
	logger  logging.Logger
}

func New(sub Subscriber, loader AnalysisLoader, objects ObjectWriter, channel string, logger logging.Logger) *Archiver {
	return &Archiver{
		sub:     sub,
		loader:  loader,
		objects: objects,
		channel: channel,
		logger:  logger,
	}
}

// Run consumes events until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.WithField("channel", a.channel).Info("archiver listening")
	err := a.sub.Subscribe(ctx, a.channel, a.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle archives the analysis named by one event. Malformed events and
// analyses that no longer exist are dropped; other failures are returned so
// the broker redelivers.
func (a *Archiver) Handle(ctx context.Context, msg mq.Message) error {
	var event types.AnalysisCompletedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil || event.AnalysisID <= 0 {
		a.logger.WithField("message_id", msg.ID).Warn("dropping malformed analysis event")
		return nil
	}

	fields := logging.Fields{
		"message_id":  msg.ID,
		"analysis_id": event.AnalysisID,
		"user_id":     event.UserID,
	}

	analysis, err := a.loader.Get(ctx, event.UserID, event.AnalysisID)
	if errors.Is(err, store.ErrNotFound) {
		a.logger.WithFields(fields).Warn("analysis gone before archiving")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load analysis %d: %w", event.AnalysisID, err)
	}

	key := ObjectKey(analysis.UserID, analysis.ID)
	if err := a.objects.PutJSON(ctx, key, analysis); err != nil {
		a.logger.WithFields(fields).WithError(err).Error("archive write failed")
		return fmt.Errorf("write %s: %w", key, err)
	}

	a.logger.WithFields(fields).WithField("key", key).Info("analysis archived")
	return nil
}

// ObjectKey is the storage key of an archived analysis.
func ObjectKey(userID, analysisID int) string {
	return fmt.Sprintf("analyses/%d/%d.json", userID, analysisID)
}
