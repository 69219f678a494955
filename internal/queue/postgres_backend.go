package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	raitoerrors "raito/internal/errors"
)

const pgUniqueViolation = "23505"

type postgresBackend struct {
	db *sql.DB
}

func newPostgresBackend(dsn string) (*postgresBackend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresBackend{db: db}, nil
}

func (b *postgresBackend) Add(ctx context.Context, id uuid.UUID, data json.RawMessage) error {
	const q = `INSERT INTO queue_scrape (id, status, data) VALUES ($1, 'queued', $2)`
	_, err := b.db.ExecContext(ctx, q, id, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return raitoerrors.New(raitoerrors.DuplicateJob, "job "+id.String()+" already exists")
		}
		return err
	}
	return nil
}

const selectJobColumns = `id, status, data, created_at, lock, locked_at, finished_at, returnvalue, failedreason`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var lock, failedReason sql.NullString
	var lockedAt, finishedAt sql.NullTime
	var returnValue pqtype.NullRawMessage
	err := row.Scan(&j.ID, &j.Status, &j.Data, &j.CreatedAt, &lock, &lockedAt, &finishedAt, &returnValue, &failedReason)
	if err != nil {
		return nil, err
	}
	j.Lock = lock.String
	j.LockedAt = lockedAt.Time
	j.FinishedAt = finishedAt.Time
	j.FailedReason = failedReason.String
	if returnValue.Valid {
		j.ReturnValue = json.RawMessage(returnValue.RawMessage)
	}
	return &j, nil
}

func (b *postgresBackend) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	q := `SELECT ` + selectJobColumns + ` FROM queue_scrape WHERE id = $1`
	row := b.db.QueryRowContext(ctx, q, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (b *postgresBackend) GetJobs(ctx context.Context, ids []uuid.UUID) ([]Job, error) {
	return b.GetJobsWithStatuses(ctx, ids, nil)
}

func (b *postgresBackend) GetJobsWithStatuses(ctx context.Context, ids []uuid.UUID, statuses []Status) ([]Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + selectJobColumns + ` FROM queue_scrape WHERE id = ANY($1::uuid[])`
	args := []any{uuid.UUIDs(ids)}
	if len(statuses) > 0 {
		q += ` AND status = ANY($2::job_status[])`
		strStatuses := make([]string, len(statuses))
		for i, s := range statuses {
			strStatuses[i] = string(s)
		}
		args = append(args, strStatuses)
	}
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (b *postgresBackend) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM queue_scrape WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Claim atomically selects the oldest queued row, skipping rows
// locked by concurrent claimers, and marks it active. SKIP LOCKED
// means dispatch is FIFO over created_at only modulo contention; no
// stronger ordering is promised.
func (b *postgresBackend) Claim(ctx context.Context, workerNonce string) (*Job, error) {
	const q = `
UPDATE queue_scrape
SET status = 'active', lock = $1, locked_at = now()
WHERE id = (
	SELECT id FROM queue_scrape
	WHERE status = 'queued'
	ORDER BY created_at ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING ` + selectJobColumns
	row := b.db.QueryRowContext(ctx, q, workerNonce)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (b *postgresBackend) RenewLock(ctx context.Context, id uuid.UUID, workerNonce string) (bool, error) {
	const q = `UPDATE queue_scrape SET locked_at = now() WHERE id = $1 AND lock = $2 AND status = 'active'`
	res, err := b.db.ExecContext(ctx, q, id, workerNonce)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (b *postgresBackend) Finish(ctx context.Context, id uuid.UUID, workerNonce string, returnValue json.RawMessage) (bool, error) {
	const q = `
UPDATE queue_scrape
SET status = 'completed', returnvalue = $3, finished_at = now()
WHERE id = $1 AND lock = $2 AND status = 'active'`
	res, err := b.db.ExecContext(ctx, q, id, workerNonce, returnValue)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (b *postgresBackend) Fail(ctx context.Context, id uuid.UUID, workerNonce string, failedReason string) (bool, error) {
	const q = `
UPDATE queue_scrape
SET status = 'failed', failedreason = $3, finished_at = now()
WHERE id = $1 AND lock = $2 AND status = 'active'`
	res, err := b.db.ExecContext(ctx, q, id, workerNonce, failedReason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReapExpired resets rows that a worker abandoned: still active after
// lease has elapsed since the last renewal.
func (b *postgresBackend) ReapExpired(ctx context.Context, leaseDuration time.Duration) (int64, error) {
	const q = `
UPDATE queue_scrape
SET status = 'queued', lock = NULL, locked_at = NULL
WHERE status = 'active' AND locked_at < now() - $1::interval`
	seconds := fmt.Sprintf("%d seconds", int64(leaseDuration.Seconds()))
	res, err := b.db.ExecContext(ctx, q, seconds)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *postgresBackend) CountsByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_scrape GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int64{StatusQueued: 0, StatusActive: 0, StatusCompleted: 0, StatusFailed: 0}
	for rows.Next() {
		var s Status
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}
