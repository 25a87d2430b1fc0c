// Package feed provides the change feed: best-effort push notification of
// insert/update events on store records, delivered to subscribers filtered
// by topic. The feed may silently drop, delay, or fail to connect; consumers
// that need guaranteed delivery pair a subscription with a reconciliation
// poll against the store.
package feed

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Op is the store operation an event describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Event is a single change-feed notification. Record carries the full row
// JSON when it fits the transport; it may be absent, in which case only the
// record id is available and the subscriber re-reads the store.
type Event struct {
	Op       Op              `json:"op"`
	Table    string          `json:"table"`
	Topic    string          `json:"topic"`
	RecordID uuid.UUID       `json:"record_id"`
	Record   json.RawMessage `json:"record,omitempty"`
}

// Subscription is a live event stream for one topic. Close is idempotent;
// after Close the Events channel is closed and no further events arrive.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// Feed hands out topic-filtered subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Publisher pushes events into the feed. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// SessionTopic is the topic carrying message and recommendation events for
// one consultation session.
func SessionTopic(sessionID uuid.UUID) string {
	return "session:" + sessionID.String()
}

// QueueTopic is the topic carrying status events for one queue entry.
func QueueTopic(entryID uuid.UUID) string {
	return "queue:" + entryID.String()
}
