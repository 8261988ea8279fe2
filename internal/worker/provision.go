package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/excel"
	"mindleap-provisioning/internal/logger"
	"mindleap-provisioning/internal/metrics"
	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/provision"
	"mindleap-provisioning/internal/queue"
	"mindleap-provisioning/internal/storage"
	"mindleap-provisioning/pkg/errors"

	"github.com/rs/zerolog"
)

// JobSource delivers queued bulk jobs, Redis in production.
type JobSource interface {
	ConsumeProvisionQueue(ctx context.Context, handler queue.MessageHandler) error
}

type ProgressSink interface {
	SaveProgress(ctx context.Context, p model.Progress) error
}

// ProvisionWorker runs queued bulk uploads: it re-validates the stored file
// against the current registry, provisions the valid rows in order and
// writes the outcome report.
type ProvisionWorker struct {
	jobs       db.JobRepository
	catalog    excel.CatalogSource
	storage    storage.Storage
	provision  *provision.Service
	source     JobSource
	progress   ProgressSink
	workerPool *WorkerPool
	log        zerolog.Logger
}

type ProvisionWorkerDeps struct {
	Jobs      db.JobRepository
	Catalog   excel.CatalogSource
	Storage   storage.Storage
	Provision *provision.Service
	Source    JobSource
	Progress  ProgressSink
}

func NewProvisionWorker(deps ProvisionWorkerDeps, workerCount, queueSize int) *ProvisionWorker {
	return &ProvisionWorker{
		jobs:       deps.Jobs,
		catalog:    deps.Catalog,
		storage:    deps.Storage,
		provision:  deps.Provision,
		source:     deps.Source,
		progress:   deps.Progress,
		workerPool: NewWorkerPool(workerCount, queueSize),
		log:        logger.Component("provision_worker"),
	}
}

func (w *ProvisionWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting provision worker")

	w.workerPool.Start(ctx)

	return w.source.ConsumeProvisionQueue(ctx, w.handleMessage)
}

func (w *ProvisionWorker) Stop() {
	w.log.Info().Msg("Stopping provision worker")
	w.workerPool.Stop()
}

func (w *ProvisionWorker) handleMessage(ctx context.Context, data []byte) error {
	var job model.ProvisionJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.log.Error().Err(err).Msg("Failed to unmarshal provision job")
		return err
	}
	if job.JobID == "" {
		return fmt.Errorf("%w: provision job without id", errors.ErrInvalidInput)
	}

	w.log.Info().Str("job_id", job.JobID).Str("s3_path", job.S3Path).Msg("Received provision job")

	return w.workerPool.Submit(ctx, func(ctx context.Context) error {
		return w.ProcessJob(ctx, job)
	})
}

// ProcessJob runs one bulk job to completion. The QUEUED to RUNNING claim is
// atomic, so a redelivered or duplicated message does not provision twice.
func (w *ProvisionWorker) ProcessJob(ctx context.Context, job model.ProvisionJob) error {
	log := w.log.With().Str("job_id", job.JobID).Logger()

	err := w.jobs.TransitionJob(ctx, job.JobID, model.JobStatusQueued, model.JobStatusRunning)
	if errors.Is(err, errors.ErrStatusConflict) {
		log.Warn().Err(err).Msg("Job is not queued, skipping")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim job")
		return err
	}

	inputs, err := w.loadRows(ctx, job, log)
	if err != nil {
		return w.fail(ctx, job.JobID, err, log)
	}

	result := w.provision.RunBatch(ctx, inputs, func(p model.Progress) {
		p.JobID = job.JobID
		if err := w.progress.SaveProgress(ctx, p); err != nil {
			log.Warn().Err(err).Msg("Failed to publish progress")
		}
	})

	if err := w.jobs.InsertOutcomes(ctx, job.JobID, result.Outcomes); err != nil {
		log.Error().Err(err).Msg("Failed to record outcomes")
	}

	report, err := excel.OutcomeReport(result)
	if err != nil {
		return w.fail(ctx, job.JobID, fmt.Errorf("failed to build report: %w", err), log)
	}
	reportKey := storage.ReportKey(job.JobID)
	if err := w.storage.Upload(ctx, reportKey, bytes.NewReader(report)); err != nil {
		return w.fail(ctx, job.JobID, fmt.Errorf("failed to store report: %w", err), log)
	}

	if err := w.jobs.CompleteJob(ctx, job.JobID, result, reportKey); err != nil {
		log.Error().Err(err).Msg("Failed to complete job")
		return err
	}

	metrics.ProvisionJobs.WithLabelValues(string(model.JobStatusCompleted)).Inc()
	log.Info().
		Int("succeeded", result.SuccessCount).
		Int("failed", result.FailureCount).
		Msg("Provision job completed")
	return nil
}

// loadRows re-validates the stored upload. The registry may have changed
// since the operator validated it.
func (w *ProvisionWorker) loadRows(ctx context.Context, job model.ProvisionJob, log zerolog.Logger) ([]model.StudentInput, error) {
	log.Debug().Msg("Downloading upload")
	data, err := storage.ReadAll(ctx, w.storage, job.S3Path)
	if err != nil {
		return nil, fmt.Errorf("failed to download upload: %w", err)
	}

	catalog, err := excel.LoadCatalog(ctx, w.catalog)
	if err != nil {
		return nil, err
	}
	report, err := excel.NewValidator(catalog).ValidateFile(ctx, job.FileName, data, job.Scope)
	if err != nil {
		return nil, err
	}
	if report.HasErrors() && !job.SkipInvalid {
		return nil, fmt.Errorf("%w: %d invalid rows", errors.ErrUploadHasErrors, report.InvalidRowCount)
	}

	log.Debug().
		Int("valid_rows", len(report.ValidRows)).
		Int("invalid_rows", report.InvalidRowCount).
		Msg("Upload validated")

	inputs := report.ValidRows
	for i := range inputs {
		inputs[i].CreatedBy = job.RequestedBy
	}
	return inputs, nil
}

func (w *ProvisionWorker) fail(ctx context.Context, jobID string, cause error, log zerolog.Logger) error {
	log.Error().Err(cause).Msg("Provision job failed")
	metrics.ProvisionJobs.WithLabelValues(string(model.JobStatusFailed)).Inc()

	msg := cause.Error()
	if err := w.jobs.UpdateJobStatus(ctx, jobID, model.JobStatusFailed, &msg); err != nil {
		log.Error().Err(err).Msg("Failed to mark job failed")
	}
	return cause
}
