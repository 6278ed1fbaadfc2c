package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clearslate/sweeper/internal/models"
)

// ClaimNextJob atomically claims the oldest pending job, moving it to
// processing. SKIP LOCKED keeps two concurrent pollers from claiming the
// same row.
func (s *Store) ClaimNextJob(ctx context.Context) (models.SweepJob, bool, error) {
	var job models.SweepJob
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id, user_id, created_at FROM sweep_jobs
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&job.ID, &job.UserID, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE sweep_jobs
		SET status = 'processing', started_at = now(), progress = 0
		WHERE id = $1 AND status = 'pending'
		RETURNING started_at
	`, job.ID).Scan(&job.StartedAt)
	if err != nil {
		return job, false, err
	}

	job.Status = models.JobProcessing
	return job, true, nil
}

// UpdateJobProgress records fetch progress on the job row.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE sweep_jobs SET progress = $2 WHERE id = $1`,
		jobID, progress,
	)
	return err
}

// MarkJobCompleted flips a job to its completed terminal state with result
// counters.
func (s *Store) MarkJobCompleted(ctx context.Context, jobID uuid.UUID, servicesFound, breachesFound int) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE sweep_jobs
		SET status = 'completed', progress = 100, services_found = $2,
		    breaches_found = $3, completed_at = now()
		WHERE id = $1
	`, jobID, servicesFound, breachesFound)
	return err
}

// MarkJobFailed flips a job to its failed terminal state with the error
// kind tag and message.
func (s *Store) MarkJobFailed(ctx context.Context, jobID uuid.UUID, kind, message string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE sweep_jobs
		SET status = 'failed', error_kind = $2, error_message = $3, completed_at = now()
		WHERE id = $1
	`, jobID, kind, message)
	return err
}

// MarkJobsStale flags a user's earlier completed sweeps as superseded by
// the given job.
func (s *Store) MarkJobsStale(ctx context.Context, userID uuid.UUID, supersededBy uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE sweep_jobs
		SET stale = TRUE
		WHERE user_id = $1 AND status = 'completed' AND id <> $2 AND NOT stale
	`, userID, supersededBy)
	return err
}

// LatestCompletedJob returns the most recent non-stale completed sweep for
// a user, which decides incremental vs full scanning.
func (s *Store) LatestCompletedJob(ctx context.Context, userID uuid.UUID) (models.SweepJob, bool, error) {
	var job models.SweepJob
	err := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, status, progress, services_found, breaches_found,
		       stale, created_at, started_at, completed_at
		FROM sweep_jobs
		WHERE user_id = $1 AND status = 'completed' AND NOT stale
		ORDER BY completed_at DESC
		LIMIT 1
	`, userID).Scan(
		&job.ID, &job.UserID, &job.Status, &job.Progress,
		&job.ServicesFound, &job.BreachesFound, &job.Stale,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}
	return job, true, nil
}
