package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CreateJobTx persists a new Pending job inside the caller's transaction. A
// missing ID is filled with a fresh UUID.
func (s *SQLiteStore) CreateJobTx(ctx context.Context, tx *sql.Tx, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ChunkSize == 0 {
		return fmt.Errorf("chunk size must be positive: %w", ErrInvalidConfig)
	}
	job.Status = JobPending

	query := `
	INSERT INTO jobs (id, parent_id, modality, subtype, source_uri, model_id,
		status, chunk_size, cursor, units_processed, unit_quota, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, '')
	`

	_, err := tx.ExecContext(ctx, query,
		job.ID, job.ParentID, job.Modality, job.Subtype, job.SourceURI, job.ModelID,
		job.Status, job.ChunkSize, job.UnitQuota)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob fetches a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get_job", ErrStoreClosed)
	}

	query := `
	SELECT id, parent_id, modality, subtype, source_uri, model_id, status,
		chunk_size, cursor, units_processed, unit_quota, error, created_at, updated_at
	FROM jobs WHERE id = ?
	`

	var job Job
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.ParentID, &job.Modality, &job.Subtype, &job.SourceURI,
		&job.ModelID, &job.Status, &job.ChunkSize, &job.Cursor,
		&job.UnitsProcessed, &job.UnitQuota, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, wrapError("get_job", fmt.Errorf("job %s: %w", id, ErrNotFound))
	}
	if err != nil {
		return nil, wrapError("get_job", err)
	}

	return &job, nil
}

// ListJobs returns jobs filtered by status; an empty status lists all.
func (s *SQLiteStore) ListJobs(ctx context.Context, status JobStatus) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("list_jobs", ErrStoreClosed)
	}

	query := `
	SELECT id, parent_id, modality, subtype, source_uri, model_id, status,
		chunk_size, cursor, units_processed, unit_quota, error, created_at, updated_at
	FROM jobs
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("list_jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(
			&job.ID, &job.ParentID, &job.Modality, &job.Subtype, &job.SourceURI,
			&job.ModelID, &job.Status, &job.ChunkSize, &job.Cursor,
			&job.UnitsProcessed, &job.UnitQuota, &job.Error, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, wrapError("list_jobs", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

// AdvanceJobTx commits a chunk's progress inside the chunk transaction:
// cursor and units move together with the chunk's writes or not at all.
func (s *SQLiteStore) AdvanceJobTx(ctx context.Context, tx *sql.Tx, id string, cursor, unitsProcessed uint64) error {
	res, err := tx.ExecContext(ctx, `
	UPDATE jobs SET status = ?, cursor = ?, units_processed = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`,
		JobProcessing, cursor, unitsProcessed, id)
	if err != nil {
		return fmt.Errorf("failed to advance job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	return nil
}

// SetJobStatus moves a job to a new status outside any chunk transaction.
// The error message is the user-visible failure surface, tagged with the
// error taxonomy rather than a raw stack trace.
func (s *SQLiteStore) SetJobStatus(ctx context.Context, id string, status JobStatus, errMsg string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("set_job_status", ErrStoreClosed)
	}

	res, err := s.db.ExecContext(ctx, `
	UPDATE jobs SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`,
		status, errMsg, id)
	if err != nil {
		return wrapError("set_job_status", classifyConflict(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapError("set_job_status", err)
	}
	if affected == 0 {
		return wrapError("set_job_status", fmt.Errorf("job %s: %w", id, ErrNotFound))
	}

	return nil
}
