package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// NOTIFY payloads are capped by Postgres at 8000 bytes. Events whose record
// JSON pushes the payload over the cap are sent id-only; subscribers fall
// back to re-reading the store.
const maxNotifyPayload = 7800

// Notifier publishes feed events through Postgres NOTIFY so that every
// process attached to the database observes them, not just the one that
// performed the write.
type Notifier struct {
	pool    *pgxpool.Pool
	channel string
}

// NewNotifier creates a Notifier publishing on the given NOTIFY channel.
func NewNotifier(pool *pgxpool.Pool, channel string) *Notifier {
	return &Notifier{pool: pool, channel: channel}
}

// Publish sends the event as a NOTIFY payload. Errors are returned but
// callers treat them as degradation, not failure: the poll path reconciles.
func (n *Notifier) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if len(payload) > maxNotifyPayload {
		event.Record = nil
		if payload, err = json.Marshal(event); err != nil {
			return fmt.Errorf("marshal feed event: %w", err)
		}
	}

	_, err = n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, n.channel, string(payload))
	if err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Listener bridges Postgres LISTEN into a Bus: it holds one connection on
// LISTEN and republishes each notification to in-process subscribers.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
	bus     *Bus
	logger  zerolog.Logger
}

// NewListener creates a Listener for the given NOTIFY channel.
func NewListener(pool *pgxpool.Pool, channel string, bus *Bus, logger zerolog.Logger) *Listener {
	return &Listener{pool: pool, channel: channel, bus: bus, logger: logger}
}

// Run listens until ctx is cancelled, reconnecting with backoff after
// connection loss. Malformed payloads are logged and skipped.
func (l *Listener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("feed listener disconnected")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+l.channel); err != nil {
		return fmt.Errorf("listen on %s: %w", l.channel, err)
	}
	l.logger.Info().Str("channel", l.channel).Msg("feed listener attached")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var event Event
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			l.logger.Warn().Err(err).Msg("malformed feed payload")
			continue
		}

		_ = l.bus.Publish(ctx, event)
	}
}
