package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"mindleap-provisioning/internal/excel"
	"mindleap-provisioning/internal/metrics"
	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/storage"
	"mindleap-provisioning/internal/studentid"
	"mindleap-provisioning/pkg/errors"

	"github.com/gin-gonic/gin"
)

const defaultJobListLimit = 50

type provisionRequest struct {
	SkipInvalid bool `json:"skip_invalid"`
}

// CreateUpload stores a spreadsheet and validates it against the registry.
// Nothing is provisioned until the operator confirms the job.
func (h *Handler) CreateUpload(c *gin.Context) {
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Server.MaxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large", "limit_bytes": tooLarge.Limit})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if _, err := excel.StrategyFor(fileHeader.Filename); err != nil {
		h.respondError(c, err)
		return
	}

	scope, err := parseScope(c.PostForm("scope"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	scope, err = restrictScope(c, scope)
	if err != nil {
		h.respondError(c, err)
		return
	}

	data, err := readFormFile(fileHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}

	catalog, err := excel.LoadCatalog(ctx, h.catalog)
	if err != nil {
		h.respondError(c, err)
		return
	}
	report, err := excel.NewValidator(catalog).ValidateFile(ctx, fileHeader.Filename, data, scope)
	if err != nil {
		metrics.UploadsValidated.WithLabelValues("rejected").Inc()
		h.respondError(c, err)
		return
	}

	jobID := h.newID()
	key := storage.UploadKey(jobID, fileHeader.Filename)
	if err := h.storage.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		h.respondError(c, err)
		return
	}

	job := &model.UploadJob{
		ID:        jobID,
		FileName:  fileHeader.Filename,
		S3Path:    key,
		Scope:     scope,
		Status:    model.JobStatusValidated,
		TotalRows: report.TotalRows,
		ValidRows: len(report.ValidRows),
		Errors:    report.Errors,
		CreatedBy: operatorID(c),
	}
	if report.HasErrors() {
		job.Status = model.JobStatusInvalid
	}
	if err := h.jobs.CreateJob(ctx, job); err != nil {
		h.respondError(c, err)
		return
	}
	metrics.UploadsValidated.WithLabelValues(strings.ToLower(string(job.Status))).Inc()

	h.log.Info().
		Str("job_id", jobID).
		Str("file", fileHeader.Filename).
		Int("total_rows", report.TotalRows).
		Int("invalid_rows", report.InvalidRowCount).
		Msg("Upload validated")

	c.JSON(http.StatusCreated, gin.H{
		"job":               job,
		"valid_rows":        len(report.ValidRows),
		"invalid_row_count": report.InvalidRowCount,
		"errors":            report.Errors,
	})
}

// StartProvisioning queues a validated upload. An upload with invalid rows
// only runs when the operator agrees to skip them.
func (h *Handler) StartProvisioning(c *gin.Context) {
	ctx := c.Request.Context()

	var req provisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	switch job.Status {
	case model.JobStatusValidated:
	case model.JobStatusInvalid:
		if !req.SkipInvalid {
			c.JSON(http.StatusConflict, gin.H{
				"error":  errors.ErrUploadHasErrors.Error(),
				"errors": job.Errors,
			})
			return
		}
	default:
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Upload cannot be provisioned in its current state",
			"status": job.Status,
		})
		return
	}
	if job.ValidRows == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Upload has no valid rows"})
		return
	}

	if err := h.jobs.MarkQueued(ctx, job.ID, job.Status, req.SkipInvalid); err != nil {
		h.respondError(c, err)
		return
	}

	msg := model.ProvisionJob{
		JobID:       job.ID,
		S3Path:      job.S3Path,
		FileName:    job.FileName,
		Scope:       job.Scope,
		SkipInvalid: req.SkipInvalid,
		RequestedBy: operatorID(c),
	}
	if err := h.queue.EnqueueProvisionJob(ctx, msg); err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue provision job")
		errMsg := fmt.Sprintf("failed to queue job: %v", err)
		if rbErr := h.jobs.UpdateJobStatus(ctx, job.ID, job.Status, &errMsg); rbErr != nil {
			h.log.Error().Err(rbErr).Str("job_id", job.ID).Msg("Failed to restore job status")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue provision job"})
		return
	}

	h.log.Info().
		Str("job_id", job.ID).
		Bool("skip_invalid", req.SkipInvalid).
		Str("operator", msg.RequestedBy).
		Msg("Provision job enqueued")

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Provision job queued successfully",
		"job_id":  job.ID,
		"status":  model.JobStatusQueued,
	})
}

func (h *Handler) GetUpload(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	resp := model.JobStatusResponse{Job: job}
	if job.Status == model.JobStatusRunning || job.Status == model.JobStatusCompleted {
		progress, err := h.progress.GetProgress(c.Request.Context(), job.ID)
		switch {
		case err == nil:
			resp.Progress = progress
		case !errors.Is(err, errors.ErrNotFound):
			h.log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to read progress")
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListUploads(c *gin.Context) {
	status := model.JobStatus(strings.ToUpper(c.Query("status")))
	limit := defaultJobListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), status, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	visible := make([]model.UploadJob, 0, len(jobs))
	for i := range jobs {
		if canSeeJob(c, &jobs[i]) {
			visible = append(visible, jobs[i])
		}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": visible})
}

// DownloadReport serves the outcome report of a finished job.
func (h *Handler) DownloadReport(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	if job.ReportPath == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not available", "status": job.Status})
		return
	}

	data, err := storage.ReadAll(c.Request.Context(), h.storage, *job.ReportPath)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="provisioning_%s.xlsx"`, job.ID))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// DownloadErrors serves the validation errors of an upload as a workbook.
func (h *Handler) DownloadErrors(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	data, err := excel.ErrorReport(job.Errors)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="errors_%s.xlsx"`, job.ID))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// loadJob resolves :id. Jobs touching states outside the operator's claim
// look like missing ones.
func (h *Handler) loadJob(c *gin.Context) (*model.UploadJob, bool) {
	job, err := h.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if !canSeeJob(c, job) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Upload not found"})
		return nil, false
	}
	return job, true
}

func parseScope(raw string) (model.Scope, error) {
	var scope model.Scope
	if strings.TrimSpace(raw) == "" {
		return scope, nil
	}
	if err := json.Unmarshal([]byte(raw), &scope); err != nil {
		return scope, fmt.Errorf("%w: scope is not valid JSON", errors.ErrInvalidInput)
	}

	for i, s := range scope.States {
		scope.States[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for i, d := range scope.Districts {
		scope.Districts[i] = studentid.PadDistrict(d)
	}
	for i, k := range scope.Schools {
		scope.Schools[i] = model.SchoolKey{
			StateCode:    strings.ToUpper(strings.TrimSpace(k.StateCode)),
			DistrictCode: studentid.PadDistrict(k.DistrictCode),
			SchoolCode:   studentid.PadSchool(k.SchoolCode),
		}
	}
	return scope, nil
}

// restrictScope narrows an upload scope to the operator's states. An
// operator limited to some states cannot submit an unrestricted upload.
func restrictScope(c *gin.Context, scope model.Scope) (model.Scope, error) {
	claims := operator(c)
	if claims == nil {
		return scope, errors.ErrPermissionDenied
	}
	if len(claims.States) == 0 {
		return scope, nil
	}

	if len(scope.States) == 0 {
		scope.States = append([]string(nil), claims.States...)
	}
	for _, s := range scope.States {
		if !claims.CanAccessState(s) {
			return scope, fmt.Errorf("state %s: %w", s, errors.ErrOutOfScope)
		}
	}
	for _, k := range scope.Schools {
		if !claims.CanAccessState(k.StateCode) {
			return scope, fmt.Errorf("school %s: %w", k, errors.ErrOutOfScope)
		}
	}
	return scope, nil
}

func canSeeJob(c *gin.Context, job *model.UploadJob) bool {
	claims := operator(c)
	if claims == nil {
		return false
	}
	if len(claims.States) == 0 {
		return true
	}
	if len(job.Scope.States) == 0 {
		return false
	}
	for _, s := range job.Scope.States {
		if !claims.CanAccessState(s) {
			return false
		}
	}
	return true
}

func readFormFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	f, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
