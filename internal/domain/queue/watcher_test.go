package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/platform/feed"
)

func collectChanges(t *testing.T, ch <-chan StatusChange, n int) []StatusChange {
	t.Helper()
	var out []StatusChange
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case sc, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, sc)
		case <-deadline:
			t.Fatalf("timed out after %d of %d status changes", len(out), n)
		}
	}
	return out
}

func TestWatchEmitsInitialStatus(t *testing.T) {
	repo := newMockRepo()
	coord := newCoordinator(repo, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, _ := coord.Join(ctx, uuid.New(), []string{"cough"}, nil)

	w := NewWatcher(repo, feed.NewBus(), 50*time.Millisecond, zerolog.Nop())
	ch, err := w.Watch(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}

	got := collectChanges(t, ch, 1)
	if got[0].Status != StatusWaiting {
		t.Errorf("expected initial waiting status, got %s", got[0].Status)
	}
}

func TestWatchObservesTransitionsViaFeed(t *testing.T) {
	repo := newMockRepo()
	bus := feed.NewBus()
	coord := NewCoordinator(repo, fixedFreeCounter(1), bus, 5, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, _ := coord.Join(ctx, uuid.New(), []string{"cough"}, nil)

	// Long poll interval so transitions must arrive over the feed.
	w := NewWatcher(repo, bus, time.Minute, zerolog.Nop())
	ch, err := w.Watch(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	_ = collectChanges(t, ch, 1) // waiting

	if err := coord.Claim(ctx, e.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}
	got := collectChanges(t, ch, 1)
	if got[0].Status != StatusMatched {
		t.Errorf("expected matched, got %s", got[0].Status)
	}

	if err := coord.MarkInChat(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	got = collectChanges(t, ch, 1)
	if got[0].Status != StatusInChat {
		t.Errorf("expected in_chat, got %s", got[0].Status)
	}
}

func TestWatchFallsBackToPolling(t *testing.T) {
	repo := newMockRepo()
	// Coordinator publishes to a bus the watcher is not subscribed to, so
	// only the reconciliation poll can observe the transition.
	coord := newCoordinator(repo, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, _ := coord.Join(ctx, uuid.New(), []string{"cough"}, nil)

	w := NewWatcher(repo, nil, 20*time.Millisecond, zerolog.Nop())
	ch, err := w.Watch(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	_ = collectChanges(t, ch, 1)

	if err := coord.Cancel(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	got := collectChanges(t, ch, 1)
	if got[0].Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got[0].Status)
	}
}

func TestWatchClosesOnTerminalStatus(t *testing.T) {
	repo := newMockRepo()
	coord := newCoordinator(repo, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, _ := coord.Join(ctx, uuid.New(), []string{"cough"}, nil)
	if err := coord.Cancel(ctx, e.ID); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(repo, feed.NewBus(), 20*time.Millisecond, zerolog.Nop())
	ch, err := w.Watch(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}

	got := collectChanges(t, ch, 1)
	if got[0].Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got[0].Status)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed after terminal status")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after terminal status")
	}
}

func TestWatchUnknownEntry(t *testing.T) {
	w := NewWatcher(newMockRepo(), feed.NewBus(), 20*time.Millisecond, zerolog.Nop())
	if _, err := w.Watch(context.Background(), uuid.New()); err == nil {
		t.Error("expected error for unknown entry")
	}
}
