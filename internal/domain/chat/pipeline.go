package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/platform/feed"
	"github.com/telepharm/consult/internal/platform/telemetry"
)

// EventKind discriminates pipeline events.
type EventKind string

const (
	// EventMessage is a newly delivered chat message. For
	// medication_recommendation messages the referenced record rides along.
	EventMessage EventKind = "message"
	// EventRecommendation is a status change on a recommendation record.
	EventRecommendation EventKind = "recommendation"
	// EventRead is a read receipt for the session.
	EventRead EventKind = "read"
)

// Event is one item of a participant's merged session stream.
type Event struct {
	Kind           EventKind       `json:"kind"`
	Message        *Message        `json:"message,omitempty"`
	Recommendation json.RawMessage `json:"recommendation,omitempty"`
	Read           json.RawMessage `json:"read,omitempty"`
}

// RecommendationSource resolves the structured record a
// medication_recommendation message references; the recommendation workflow
// satisfies it.
type RecommendationSource interface {
	GetRecommendation(ctx context.Context, id uuid.UUID) (json.RawMessage, error)
}

// The referenced recommendation may not be committed yet when the message
// event fires; the secondary fetch retries across the write-then-notify race
// instead of failing permanently.
var recommendationFetchDelays = []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond}

const eventBuffer = 256

// Pipeline gives one session participant a complete, ordered, duplicate-free
// view of the session's messages despite the change feed being best-effort.
// Two sources feed one merge point: the feed subscription (low latency, may
// drop) and a fixed-interval reconciliation poll above the watermark
// (guaranteed eventual delivery). Message id is the deduplication key, so a
// record arriving on both paths is delivered exactly once. Either source may
// fail independently; the session stays usable as long as one functions.
type Pipeline struct {
	sessionID uuid.UUID
	messages  Repository
	recs      RecommendationSource
	feed      feed.Feed
	interval  time.Duration
	metrics   *telemetry.Metrics
	logger    zerolog.Logger

	mu        sync.Mutex
	seen      map[uuid.UUID]struct{}
	seq       []*Message
	watermark time.Time

	out    chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPipeline(sessionID uuid.UUID, messages Repository, recs RecommendationSource, f feed.Feed, interval time.Duration, metrics *telemetry.Metrics, logger zerolog.Logger) *Pipeline {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Pipeline{
		sessionID: sessionID,
		messages:  messages,
		recs:      recs,
		feed:      f,
		interval:  interval,
		metrics:   metrics,
		logger:    logger.With().Str("session_id", sessionID.String()).Logger(),
		seen:      make(map[uuid.UUID]struct{}),
		out:       make(chan Event, eventBuffer),
		done:      make(chan struct{}),
	}
}

// Start backfills the session history and launches both delivery sources.
// The backfill is the only hard dependency: without it the participant has
// no baseline to deduplicate against.
func (p *Pipeline) Start(ctx context.Context) error {
	history, err := p.messages.ListSince(ctx, p.sessionID, time.Time{})
	if err != nil {
		return err
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	fresh := p.apply(history)
	go func() {
		defer close(p.done)
		defer close(p.out)
		p.emit(fresh)
		p.run()
	}()
	return nil
}

// Events is the merged session stream. Closed on teardown.
func (p *Pipeline) Events() <-chan Event { return p.out }

// ApplyLocal admits the sender's own just-inserted message without waiting
// for either delivery source, so the sender's perceived latency is zero.
// The normal dedup rule swallows the copy arriving later via push or poll.
func (p *Pipeline) ApplyLocal(m *Message) {
	if p.ctx == nil || p.ctx.Err() != nil {
		return
	}
	p.emit(p.apply([]*Message{m}))
}

// Snapshot returns the sequence held so far, in creation order.
func (p *Pipeline) Snapshot() []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Message, len(p.seq))
	copy(out, p.seq)
	return out
}

// Close cancels both sources and waits for the stream to drain. No further
// records are accepted afterwards.
func (p *Pipeline) Close() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Pipeline) run() {
	var events <-chan feed.Event
	if p.feed != nil {
		sub, err := p.feed.Subscribe(p.ctx, feed.SessionTopic(p.sessionID))
		if err != nil {
			// Degraded: the poll still delivers everything, slower.
			p.logger.Warn().Err(err).Msg("feed subscribe failed, poll-only delivery")
		} else {
			defer sub.Close()
			events = sub.Events()
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.handleFeedEvent(ev)

		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Pipeline) handleFeedEvent(ev feed.Event) {
	switch {
	case ev.Table == "chat_message" && ev.Op == feed.OpInsert:
		m := p.decodeMessage(ev)
		if m == nil {
			// Truncated or malformed payload: reconcile from the store.
			p.poll()
			return
		}
		p.emit(p.apply([]*Message{m}))

	case ev.Table == "chat_message" && ev.Op == feed.OpUpdate:
		p.send(Event{Kind: EventRead, Read: ev.Record})

	case ev.Table == "medication_recommendation":
		rec := ev.Record
		if len(rec) == 0 {
			rec = p.fetchRecommendation(ev.RecordID)
			if rec == nil {
				return
			}
		}
		p.send(Event{Kind: EventRecommendation, Recommendation: rec})
	}
}

func (p *Pipeline) decodeMessage(ev feed.Event) *Message {
	if len(ev.Record) == 0 {
		return nil
	}
	var m Message
	if err := json.Unmarshal(ev.Record, &m); err != nil {
		p.logger.Warn().Err(err).Msg("malformed chat feed record")
		return nil
	}
	return &m
}

func (p *Pipeline) poll() {
	p.mu.Lock()
	since := p.watermark
	p.mu.Unlock()

	msgs, err := p.messages.ListSince(p.ctx, p.sessionID, since)
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("reconciliation poll failed")
		}
		return
	}
	fresh := p.apply(msgs)
	if len(fresh) > 0 && p.metrics != nil {
		p.metrics.PollReconciliations.Inc()
	}
	p.emit(fresh)
}

// apply admits messages through the dedup gate and returns the ones not seen
// before, in creation order. The watermark advances to the newest admitted
// record; the poll re-reads records sharing that timestamp, which the gate
// absorbs.
func (p *Pipeline) apply(msgs []*Message) []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fresh []*Message
	for _, m := range msgs {
		if m == nil || m.SessionID != p.sessionID {
			continue
		}
		if _, dup := p.seen[m.ID]; dup {
			if p.metrics != nil {
				p.metrics.MessagesDeduped.Inc()
			}
			continue
		}
		p.seen[m.ID] = struct{}{}
		p.seq = append(p.seq, m)
		if m.CreatedAt.After(p.watermark) {
			p.watermark = m.CreatedAt
		}
		fresh = append(fresh, m)
	}
	if len(fresh) > 0 {
		sort.Slice(p.seq, func(i, j int) bool { return p.seq[i].Before(p.seq[j]) })
		sort.Slice(fresh, func(i, j int) bool { return fresh[i].Before(fresh[j]) })
	}
	return fresh
}

func (p *Pipeline) emit(msgs []*Message) {
	for _, m := range msgs {
		ev := Event{Kind: EventMessage, Message: m}
		if m.MessageType == TypeRecommendation {
			if id, err := m.RecommendationID(); err != nil {
				p.logger.Warn().Err(err).Str("message_id", m.ID.String()).Msg("unresolvable recommendation message")
			} else {
				ev.Recommendation = p.fetchRecommendation(id)
			}
		}
		if p.send(ev) && p.metrics != nil {
			p.metrics.MessagesDelivered.Inc()
		}
	}
}

func (p *Pipeline) send(ev Event) bool {
	select {
	case p.out <- ev:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *Pipeline) fetchRecommendation(id uuid.UUID) json.RawMessage {
	if p.recs == nil {
		return nil
	}
	var lastErr error
	for _, delay := range recommendationFetchDelays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-p.ctx.Done():
				return nil
			}
		}
		rec, err := p.recs.GetRecommendation(p.ctx, id)
		if err == nil {
			return rec
		}
		lastErr = err
	}
	p.logger.Warn().Err(lastErr).Str("recommendation_id", id.String()).Msg("recommendation fetch failed after retries")
	return nil
}
