package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telepharm/consult/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(_ context.Context) queryable { return r.pool }

const messageCols = `id, session_id, sender_id, sender_type, content, message_type, created_at, is_read`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.SenderType,
		&m.Content, &m.MessageType, &m.CreatedAt, &m.IsRead)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO chat_message (id, session_id, sender_id, sender_type, content, message_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		m.ID, m.SessionID, m.SenderID, m.SenderType, m.Content, m.MessageType).Scan(&m.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+messageCols+` FROM chat_message WHERE id = $1`, id))
}

func (r *repoPG) ListSince(ctx context.Context, sessionID uuid.UUID, since time.Time) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+messageCols+` FROM chat_message
		WHERE session_id = $1 AND created_at >= $2
		ORDER BY created_at ASC, id ASC`,
		sessionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *repoPG) MarkRead(ctx context.Context, sessionID, readerID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE chat_message SET is_read = TRUE
		WHERE session_id = $1 AND sender_id <> $2 AND NOT is_read`,
		sessionID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
