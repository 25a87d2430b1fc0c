package queue

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

const entryCols = `id, patient_id, status, symptoms, notes, matched_pharmacist_id, created_at, matched_at, ended_at`

func scanEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(&e.ID, &e.PatientID, &e.Status, &e.Symptoms, &e.Notes,
		&e.MatchedPharmacistID, &e.CreatedAt, &e.MatchedAt, &e.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) Create(ctx context.Context, e *QueueEntry) error {
	e.ID = uuid.New()
	if e.Status == "" {
		e.Status = StatusWaiting
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entry (id, patient_id, status, symptoms, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		e.ID, e.PatientID, e.Status, e.Symptoms, e.Notes).Scan(&e.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM queue_entry WHERE id = $1`, id))
}

func (r *repoPG) GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*QueueEntry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE patient_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1`,
		patientID, ActiveStatuses))
}

func (r *repoPG) CountWaitingBefore(ctx context.Context, createdAt time.Time, id uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_entry
		WHERE status = $1 AND (created_at < $2 OR (created_at = $2 AND id < $3))`,
		StatusWaiting, createdAt, id).Scan(&count)
	return count, err
}

func (r *repoPG) ListWaiting(ctx context.Context, limit, offset int) ([]*QueueEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entry WHERE status = $1`, StatusWaiting).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`,
		StatusWaiting, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Claim(ctx context.Context, entryID, pharmacistID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_entry
		SET status = $3, matched_pharmacist_id = $2, matched_at = NOW()
		WHERE id = $1 AND status = $4`,
		entryID, pharmacistID, StatusMatched, StatusWaiting)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrConflict
	}
	return nil
}

func (r *repoPG) MarkInChat(ctx context.Context, entryID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_entry SET status = $2 WHERE id = $1 AND status = $3`,
		entryID, StatusInChat, StatusMatched)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrConflict
	}
	return nil
}

func (r *repoPG) Cancel(ctx context.Context, entryID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_entry SET status = $2, ended_at = NOW() WHERE id = $1 AND status = $3`,
		entryID, StatusCancelled, StatusWaiting)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrConflict
	}
	return nil
}

func (r *repoPG) RevertToWaiting(ctx context.Context, entryID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_entry
		SET status = $2, matched_pharmacist_id = NULL, matched_at = NULL
		WHERE id = $1 AND status = ANY($3)`,
		entryID, StatusWaiting, []string{StatusMatched, StatusInChat})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrConflict
	}
	return nil
}

func (r *repoPG) Complete(ctx context.Context, entryID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_entry SET status = $2, ended_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		entryID, StatusCompleted, []string{StatusInChat, StatusInConsultation})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrConflict
	}
	return nil
}
