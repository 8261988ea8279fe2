package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/pkg/errors"

	sq "github.com/Masterminds/squirrel"
)

// JobRepository is the ledger of upload jobs and their per-row outcomes.
type JobRepository interface {
	CreateJob(ctx context.Context, job *model.UploadJob) error
	GetJob(ctx context.Context, jobID string) (*model.UploadJob, error)
	ListJobs(ctx context.Context, status model.JobStatus, limit int) ([]model.UploadJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage *string) error
	// TransitionJob moves a job from one status to another only if it is
	// still in from. It returns ErrStatusConflict otherwise.
	TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) error
	MarkQueued(ctx context.Context, jobID string, from model.JobStatus, skipInvalid bool) error
	CompleteJob(ctx context.Context, jobID string, result model.BatchResult, reportPath string) error
	InsertOutcomes(ctx context.Context, jobID string, outcomes []model.Outcome) error
	GetOutcomes(ctx context.Context, jobID string) ([]model.Outcome, error)
}

const jobColumns = `id, file_name, s3_path, report_path, scope, status, total_rows, valid_rows,
	success_count, failure_count, skip_invalid, errors, error_message, created_by, created_at, updated_at`

type jobRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

func (r *jobRepository) CreateJob(ctx context.Context, job *model.UploadJob) error {
	scope, err := json.Marshal(job.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal scope: %w", err)
	}
	rowErrors, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal row errors: %w", err)
	}

	query := `INSERT INTO upload_jobs (id, file_name, s3_path, scope, status, total_rows, valid_rows,
			  errors, created_by, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`
	_, err = r.db.ExecContext(ctx, query, job.ID, job.FileName, job.S3Path, scope, job.Status,
		job.TotalRows, job.ValidRows, rowErrors, job.CreatedBy)
	return err
}

func (r *jobRepository) GetJob(ctx context.Context, jobID string) (*model.UploadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs WHERE id = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, errors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) ListJobs(ctx context.Context, status model.JobStatus, limit int) ([]model.UploadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	builder := r.sb.Select(jobColumns).From("upload_jobs").OrderBy("created_at DESC").Limit(uint64(limit))
	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list jobs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.UploadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage *string) error {
	query := `UPDATE upload_jobs SET status = ?, error_message = ?, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, status, errorMessage, jobID)
	return err
}

func (r *jobRepository) TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) error {
	query := `UPDATE upload_jobs SET status = ?, updated_at = NOW() WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, query, to, jobID, from)
	if err != nil {
		return err
	}
	return r.checkTransition(ctx, result, jobID, from)
}

func (r *jobRepository) MarkQueued(ctx context.Context, jobID string, from model.JobStatus, skipInvalid bool) error {
	query := `UPDATE upload_jobs SET status = ?, skip_invalid = ?, updated_at = NOW() WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, query, model.JobStatusQueued, skipInvalid, jobID, from)
	if err != nil {
		return err
	}
	return r.checkTransition(ctx, result, jobID, from)
}

// checkTransition tells a missing job apart from one another caller moved
// out of the expected status first.
func (r *jobRepository) checkTransition(ctx context.Context, result sql.Result, jobID string, from model.JobStatus) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if _, err := r.GetJob(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("job %s is no longer %s: %w", jobID, from, errors.ErrStatusConflict)
}

func (r *jobRepository) CompleteJob(ctx context.Context, jobID string, result model.BatchResult, reportPath string) error {
	query := `UPDATE upload_jobs SET status = ?, success_count = ?, failure_count = ?, report_path = ?,
			  error_message = NULL, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, model.JobStatusCompleted, result.SuccessCount,
		result.FailureCount, reportPath, jobID)
	return err
}

// InsertOutcomes never stores passwords; they only travel in the report.
func (r *jobRepository) InsertOutcomes(ctx context.Context, jobID string, outcomes []model.Outcome) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO upload_outcomes (job_id, row_num, name, student_id, email, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	for _, o := range outcomes {
		_, err := tx.ExecContext(ctx, query, jobID, o.Row, o.Name, o.StudentID, o.Email, o.Status, o.Error)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *jobRepository) GetOutcomes(ctx context.Context, jobID string) ([]model.Outcome, error) {
	query := `SELECT row_num, name, student_id, email, status, error_message
			  FROM upload_outcomes WHERE job_id = ? ORDER BY row_num`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var o model.Outcome
		if err := rows.Scan(&o.Row, &o.Name, &o.StudentID, &o.Email, &o.Status, &o.Error); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.UploadJob, error) {
	var (
		job       model.UploadJob
		scope     []byte
		rowErrors []byte
	)
	err := row.Scan(&job.ID, &job.FileName, &job.S3Path, &job.ReportPath, &scope, &job.Status,
		&job.TotalRows, &job.ValidRows, &job.SuccessCount, &job.FailureCount, &job.SkipInvalid,
		&rowErrors, &job.ErrorMessage, &job.CreatedBy, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(scope) > 0 {
		if err := json.Unmarshal(scope, &job.Scope); err != nil {
			return nil, fmt.Errorf("failed to decode scope of job %s: %w", job.ID, err)
		}
	}
	if len(rowErrors) > 0 {
		if err := json.Unmarshal(rowErrors, &job.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors of job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}
