package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists chat messages.
type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)

	// ListSince returns the session's messages created at or after the
	// watermark, oldest first. The inclusive bound re-reads records sharing
	// the watermark timestamp; the caller's dedup absorbs the overlap.
	ListSince(ctx context.Context, sessionID uuid.UUID, since time.Time) ([]*Message, error)

	// MarkRead flips is_read on the messages the reader did not send,
	// returning how many changed.
	MarkRead(ctx context.Context, sessionID, readerID uuid.UUID) (int64, error)
}
