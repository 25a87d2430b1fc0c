package feed

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// Bus is an in-process Feed and Publisher. Subscribers register per topic;
// Publish fans an event out to every subscriber of its topic without
// blocking — a subscriber that cannot keep up loses events, which is within
// the feed's best-effort contract. All operations are thread-safe.
type Bus struct {
	mu      sync.RWMutex
	topics  map[string]map[*busSubscription]struct{}
	dropped DropCounter
}

// DropCounter is notified once per event skipped because a subscriber's
// buffer was full.
type DropCounter interface {
	Inc()
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*busSubscription]struct{})}
}

// OnDrop installs a counter bumped for every dropped event. Set once during
// wiring, before the Bus is shared.
func (b *Bus) OnDrop(c DropCounter) { b.dropped = c }

// Subscribe registers a subscriber for a topic. The subscription is torn
// down when Close is called or ctx is cancelled, whichever comes first.
func (b *Bus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := &busSubscription{
		bus:   b,
		topic: topic,
		ch:    make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*busSubscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

// Publish delivers the event to every subscriber of its topic. Subscribers
// with full buffers are skipped.
func (b *Bus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[event.Topic] {
		select {
		case sub.ch <- event:
		default:
			// Subscriber buffer full; drop rather than block.
			if b.dropped != nil {
				b.dropped.Inc()
			}
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) unsubscribe(sub *busSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
}

type busSubscription struct {
	bus   *Bus
	topic string
	ch    chan Event
	once  sync.Once
}

func (s *busSubscription) Events() <-chan Event { return s.ch }

func (s *busSubscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		close(s.ch)
	})
}
