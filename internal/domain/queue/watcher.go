package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/platform/feed"
)

// StatusChange is one observed transition of a queue entry.
type StatusChange struct {
	EntryID uuid.UUID   `json:"entry_id"`
	Status  string      `json:"status"`
	Entry   *QueueEntry `json:"entry"`
}

// Watcher streams status transitions for a single queue entry by merging a
// change-feed subscription with a fixed-interval reconciliation poll — the
// same push+pull arrangement the chat pipeline uses, so a dropped feed
// event delays a transition by at most one poll interval.
type Watcher struct {
	entries  Repository
	feed     feed.Feed
	interval time.Duration
	logger   zerolog.Logger
}

func NewWatcher(entries Repository, f feed.Feed, interval time.Duration, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{entries: entries, feed: f, interval: interval, logger: logger}
}

// Watch emits the entry's current status followed by every transition until
// a terminal status is reached or ctx is cancelled. The returned channel is
// closed on teardown.
func (w *Watcher) Watch(ctx context.Context, entryID uuid.UUID) (<-chan StatusChange, error) {
	entry, err := w.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}

	out := make(chan StatusChange, 8)
	go w.run(ctx, entry, out)
	return out, nil
}

func (w *Watcher) run(ctx context.Context, entry *QueueEntry, out chan<- StatusChange) {
	defer close(out)

	lastStatus := ""
	emit := func(e *QueueEntry) bool {
		if e.Status == lastStatus {
			return !IsTerminal(e.Status)
		}
		lastStatus = e.Status
		select {
		case out <- StatusChange{EntryID: e.ID, Status: e.Status, Entry: e}:
		case <-ctx.Done():
			return false
		}
		return !IsTerminal(e.Status)
	}

	if !emit(entry) {
		return
	}

	var events <-chan feed.Event
	if w.feed != nil {
		sub, err := w.feed.Subscribe(ctx, feed.QueueTopic(entry.ID))
		if err != nil {
			// Degraded: the poll below still observes every transition.
			w.logger.Warn().Err(err).Str("entry_id", entry.ID.String()).Msg("queue watch subscribe failed")
		} else {
			defer sub.Close()
			events = sub.Events()
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e := w.decode(ev)
			if e == nil {
				e = w.reread(ctx, entry.ID)
			}
			if e != nil && !emit(e) {
				return
			}

		case <-ticker.C:
			if e := w.reread(ctx, entry.ID); e != nil && !emit(e) {
				return
			}
		}
	}
}

func (w *Watcher) decode(ev feed.Event) *QueueEntry {
	if len(ev.Record) == 0 {
		return nil
	}
	var e QueueEntry
	if err := json.Unmarshal(ev.Record, &e); err != nil {
		w.logger.Warn().Err(err).Msg("malformed queue feed record")
		return nil
	}
	return &e
}

func (w *Watcher) reread(ctx context.Context, id uuid.UUID) *QueueEntry {
	e, err := w.entries.GetByID(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn().Err(err).Str("entry_id", id.String()).Msg("queue watch poll failed")
		}
		return nil
	}
	return e
}
