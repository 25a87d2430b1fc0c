package session

import (
	"context"
	"errors"

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

const sessionCols = `id, patient_id, doctor_id, queue_id, status, started_at, ended_at`

func scanSession(row pgx.Row) (*ConsultationSession, error) {
	var s ConsultationSession
	err := row.Scan(&s.ID, &s.PatientID, &s.DoctorID, &s.QueueID, &s.Status, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Create(ctx context.Context, s *ConsultationSession) error {
	s.ID = uuid.New()
	if s.Status == "" {
		s.Status = StatusActive
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultation_session (id, patient_id, doctor_id, queue_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING started_at`,
		s.ID, s.PatientID, s.DoctorID, s.QueueID, s.Status).Scan(&s.StartedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ConsultationSession, error) {
	return scanSession(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM consultation_session WHERE id = $1`, id))
}

func (r *repoPG) GetActiveByQueue(ctx context.Context, queueID uuid.UUID) (*ConsultationSession, error) {
	return scanSession(r.conn(ctx).QueryRow(ctx, `
		SELECT `+sessionCols+` FROM consultation_session
		WHERE queue_id = $1 AND status <> $2
		ORDER BY started_at DESC
		LIMIT 1`,
		queueID, StatusCompleted))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsultationSession, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation_session WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+sessionCols+` FROM consultation_session
		WHERE patient_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ConsultationSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultation_session SET status = $2, ended_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, StatusCompleted, StatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrConflict
	}
	return nil
}
