package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/saeid-a/TherapyCallBack/internal/models"
)

const jobColumns = `id, name, payload, run_at, status, attempts, last_error, created_at, updated_at`

type JobRepository struct {
	db DBTX
}

func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(
	ctx context.Context,
	name string,
	payload json.RawMessage,
	runAt time.Time,
) (*models.ScheduledJob, error) {
	query := `
		INSERT INTO scheduled_jobs (name, payload, run_at)
		VALUES ($1, $2, $3)
		RETURNING ` + jobColumns
	return scanJob(r.db.QueryRow(ctx, query, name, payload, runAt))
}

// ClaimDue marks up to limit due jobs as running. Concurrent pollers never claim the same row.
// A running job last touched at or before staleBefore lost its worker and is claimed again.
func (r *JobRepository) ClaimDue(
	ctx context.Context,
	now time.Time,
	staleBefore time.Time,
	limit int,
) ([]models.ScheduledJob, error) {
	query := `
		UPDATE scheduled_jobs
		SET status = 'running', attempts = attempts + 1, updated_at = $1
		WHERE id IN (
			SELECT id
			FROM scheduled_jobs
			WHERE (status = 'pending' AND run_at <= $1)
				OR (status = 'running' AND updated_at <= $3)
			ORDER BY run_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	rows, err := r.db.Query(ctx, query, now, limit, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.ScheduledJob, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *JobRepository) MarkDone(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE scheduled_jobs SET status = 'done', updated_at = NOW() WHERE id = $1`, id)
	return err
}

// Reschedule puts a failed job back in the queue at retryAt.
func (r *JobRepository) Reschedule(ctx context.Context, id int64, retryAt time.Time, lastError string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = 'pending', run_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, retryAt, lastError)
	return err
}

func (r *JobRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, lastError)
	return err
}

func (r *JobRepository) HasPending(ctx context.Context, name string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM scheduled_jobs WHERE name = $1 AND status IN ('pending', 'running'))`
	var exists bool
	if err := r.db.QueryRow(ctx, query, name).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func scanJob(row rowScanner) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Payload,
		&job.RunAt,
		&job.Status,
		&job.Attempts,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
