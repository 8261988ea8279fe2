package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/pkg/errors"
)

// MemoryJobRepository is the in-process job ledger used with the memory
// backend and in tests.
type MemoryJobRepository struct {
	mu       sync.Mutex
	jobs     map[string]model.UploadJob
	outcomes map[string][]model.Outcome
	now      func() time.Time
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs:     make(map[string]model.UploadJob),
		outcomes: make(map[string][]model.Outcome),
		now:      time.Now,
	}
}

func (r *MemoryJobRepository) CreateJob(ctx context.Context, job *model.UploadJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, errors.ErrAlreadyExists)
	}
	now := r.now()
	job.CreatedAt, job.UpdatedAt = now, now
	r.jobs[job.ID] = *job
	return nil
}

func (r *MemoryJobRepository) GetJob(ctx context.Context, jobID string) (*model.UploadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, errors.ErrNotFound)
	}
	return &job, nil
}

func (r *MemoryJobRepository) ListJobs(ctx context.Context, status model.JobStatus, limit int) ([]model.UploadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []model.UploadJob
	for _, job := range r.jobs {
		if status == "" || job.Status == status {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *MemoryJobRepository) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage *string) error {
	return r.update(jobID, func(job *model.UploadJob) {
		job.Status = status
		job.ErrorMessage = errorMessage
	})
}

func (r *MemoryJobRepository) TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) error {
	return r.transition(jobID, from, func(job *model.UploadJob) {
		job.Status = to
	})
}

func (r *MemoryJobRepository) MarkQueued(ctx context.Context, jobID string, from model.JobStatus, skipInvalid bool) error {
	return r.transition(jobID, from, func(job *model.UploadJob) {
		job.Status = model.JobStatusQueued
		job.SkipInvalid = skipInvalid
	})
}

func (r *MemoryJobRepository) CompleteJob(ctx context.Context, jobID string, result model.BatchResult, reportPath string) error {
	return r.update(jobID, func(job *model.UploadJob) {
		job.Status = model.JobStatusCompleted
		job.SuccessCount = result.SuccessCount
		job.FailureCount = result.FailureCount
		job.ReportPath = &reportPath
		job.ErrorMessage = nil
	})
}

func (r *MemoryJobRepository) InsertOutcomes(ctx context.Context, jobID string, outcomes []model.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range outcomes {
		o.Password = ""
		r.outcomes[jobID] = append(r.outcomes[jobID], o)
	}
	return nil
}

func (r *MemoryJobRepository) GetOutcomes(ctx context.Context, jobID string) ([]model.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcomes := make([]model.Outcome, len(r.outcomes[jobID]))
	copy(outcomes, r.outcomes[jobID])
	return outcomes, nil
}

func (r *MemoryJobRepository) update(jobID string, fn func(job *model.UploadJob)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, errors.ErrNotFound)
	}
	fn(&job)
	job.UpdatedAt = r.now()
	r.jobs[jobID] = job
	return nil
}

func (r *MemoryJobRepository) transition(jobID string, from model.JobStatus, fn func(job *model.UploadJob)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, errors.ErrNotFound)
	}
	if job.Status != from {
		return fmt.Errorf("job %s is no longer %s: %w", jobID, from, errors.ErrStatusConflict)
	}
	fn(&job)
	job.UpdatedAt = r.now()
	r.jobs[jobID] = job
	return nil
}
