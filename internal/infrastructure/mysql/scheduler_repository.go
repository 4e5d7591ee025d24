package mysql

import (
	"context"
	"database/sql"
	"time"

	"marketplace/internal/domain"
)

type MySQLSchedulerRepository struct {
	db *sql.DB
}

func NewMySQLSchedulerRepository(db *sql.DB) *MySQLSchedulerRepository {
	return &MySQLSchedulerRepository{db: db}
}

func (r *MySQLSchedulerRepository) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	query := `
        INSERT INTO scheduled_jobs (id, entity_id, entity_kind, job_type, run_at, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.EntityID, string(job.EntityKind), string(job.JobType),
		job.RunAt, string(job.Status), job.CreatedAt)
	return err
}

func (r *MySQLSchedulerRepository) GetPendingJobs(ctx context.Context, before time.Time) ([]*domain.ScheduledJob, error) {
	query := `
        SELECT id, entity_id, entity_kind, job_type, run_at, status, created_at
        FROM scheduled_jobs
        WHERE status = 'pending' AND run_at <= ?
        ORDER BY run_at ASC
    `
	return r.queryJobs(ctx, query, before)
}

func (r *MySQLSchedulerRepository) GetUpcomingJobs(ctx context.Context, after time.Time) ([]*domain.ScheduledJob, error) {
	query := `
        SELECT id, entity_id, entity_kind, job_type, run_at, status, created_at
        FROM scheduled_jobs
        WHERE status = 'pending' AND run_at > ?
        ORDER BY run_at ASC
    `
	return r.queryJobs(ctx, query, after)
}

func (r *MySQLSchedulerRepository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*domain.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		var job domain.ScheduledJob
		var kind, jobType, status string

		err := rows.Scan(&job.ID, &job.EntityID, &kind, &jobType,
			&job.RunAt, &status, &job.CreatedAt)
		if err != nil {
			return nil, err
		}

		job.EntityKind = domain.EntityKind(kind)
		job.JobType = domain.JobType(jobType)
		job.Status = domain.JobStatus(status)
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

func (r *MySQLSchedulerRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	query := `UPDATE scheduled_jobs SET status = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, string(status), jobID)
	return err
}

func (r *MySQLSchedulerRepository) CancelJobsForEntity(ctx context.Context, entityID string) error {
	query := `UPDATE scheduled_jobs SET status = 'cancelled' WHERE entity_id = ? AND status = 'pending'`
	_, err := r.db.ExecContext(ctx, query, entityID)
	return err
}
