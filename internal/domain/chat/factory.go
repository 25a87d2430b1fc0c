package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/platform/feed"
	"github.com/telepharm/consult/internal/platform/telemetry"
)

// PipelineFactory opens a started delivery pipeline per chat view. One
// pipeline per participant connection; each owns its own dedup state and
// watermark.
type PipelineFactory struct {
	messages Repository
	sessions SessionGate
	recs     RecommendationSource
	feed     feed.Feed
	interval time.Duration
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

func NewPipelineFactory(messages Repository, sessions SessionGate, recs RecommendationSource, f feed.Feed, interval time.Duration, metrics *telemetry.Metrics, logger zerolog.Logger) *PipelineFactory {
	return &PipelineFactory{
		messages: messages,
		sessions: sessions,
		recs:     recs,
		feed:     f,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Open verifies the session exists and starts a pipeline attached to it.
// The caller owns the pipeline and must Close it.
func (f *PipelineFactory) Open(ctx context.Context, sessionID uuid.UUID) (*Pipeline, error) {
	if _, err := f.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	p := NewPipeline(sessionID, f.messages, f.recs, f.feed, f.interval, f.metrics, f.logger)
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}
