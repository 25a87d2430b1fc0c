package recommendation

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

const recCols = `id, session_id, medication_name, medication_ref, dosage, frequency, duration, instructions, recommended_by, status, patient_notes, created_at`

func scanRec(row pgx.Row) (*MedicationRecommendation, error) {
	var rec MedicationRecommendation
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.MedicationName, &rec.MedicationRef,
		&rec.Dosage, &rec.Frequency, &rec.Duration, &rec.Instructions,
		&rec.RecommendedBy, &rec.Status, &rec.PatientNotes, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) Create(ctx context.Context, rec *MedicationRecommendation) error {
	rec.ID = uuid.New()
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication_recommendation
			(id, session_id, medication_name, medication_ref, dosage, frequency, duration, instructions, recommended_by, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		rec.ID, rec.SessionID, rec.MedicationName, rec.MedicationRef,
		rec.Dosage, rec.Frequency, rec.Duration, rec.Instructions,
		rec.RecommendedBy, rec.Status).Scan(&rec.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationRecommendation, error) {
	return scanRec(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recCols+` FROM medication_recommendation WHERE id = $1`, id))
}

func (r *repoPG) ListBySession(ctx context.Context, sessionID uuid.UUID, status string) ([]*MedicationRecommendation, error) {
	query := `SELECT ` + recCols + ` FROM medication_recommendation WHERE session_id = $1`
	args := []interface{}{sessionID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MedicationRecommendation
	for rows.Next() {
		rec, err := scanRec(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *repoPG) CountAcceptedBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM medication_recommendation
		WHERE session_id = $1 AND status = $2`,
		sessionID, StatusAccepted).Scan(&count)
	return count, err
}

func (r *repoPG) Decide(ctx context.Context, id uuid.UUID, status string, patientNotes *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_recommendation
		SET status = $2, patient_notes = COALESCE($3, patient_notes)
		WHERE id = $1 AND status = $4`,
		id, status, patientNotes, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrConflict
	}
	return nil
}
