package availability

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

const availCols = `pharmacist_id, is_online, is_busy, current_session_id, current_sessions_count, last_active_at`

func scanAvailability(row pgx.Row) (*PharmacistAvailability, error) {
	var a PharmacistAvailability
	err := row.Scan(&a.PharmacistID, &a.IsOnline, &a.IsBusy, &a.CurrentSessionID,
		&a.CurrentSessionsCount, &a.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Get(ctx context.Context, pharmacistID uuid.UUID) (*PharmacistAvailability, error) {
	return scanAvailability(r.conn(ctx).QueryRow(ctx,
		`SELECT `+availCols+` FROM pharmacist_availability WHERE pharmacist_id = $1`, pharmacistID))
}

func (r *repoPG) SetOnline(ctx context.Context, pharmacistID uuid.UUID, online bool) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pharmacist_availability (pharmacist_id, is_online, is_busy, current_sessions_count, last_active_at)
		VALUES ($1, $2, FALSE, 0, NOW())
		ON CONFLICT (pharmacist_id)
		DO UPDATE SET is_online = $2, last_active_at = NOW()`,
		pharmacistID, online)
	return err
}

func (r *repoPG) Acquire(ctx context.Context, pharmacistID, sessionID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pharmacist_availability
		SET is_busy = TRUE,
			current_session_id = $2,
			current_sessions_count = current_sessions_count + 1,
			last_active_at = NOW()
		WHERE pharmacist_id = $1 AND is_online AND NOT is_busy`,
		pharmacistID, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrConflict
	}
	return nil
}

func (r *repoPG) Release(ctx context.Context, pharmacistID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pharmacist_availability
		SET current_sessions_count = GREATEST(current_sessions_count - 1, 0),
			is_busy = GREATEST(current_sessions_count - 1, 0) > 0,
			current_session_id = NULL,
			last_active_at = NOW()
		WHERE pharmacist_id = $1`,
		pharmacistID)
	return err
}

func (r *repoPG) OnlineFreeCount(ctx context.Context) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM pharmacist_availability WHERE is_online AND NOT is_busy`).Scan(&count)
	return count, err
}

func (r *repoPG) PickFree(ctx context.Context) (*PharmacistAvailability, error) {
	return scanAvailability(r.conn(ctx).QueryRow(ctx, `
		SELECT `+availCols+` FROM pharmacist_availability
		WHERE is_online AND NOT is_busy
		ORDER BY current_sessions_count ASC, last_active_at ASC
		LIMIT 1`))
}
