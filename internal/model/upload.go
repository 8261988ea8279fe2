package model

import "time"

type JobStatus string

const (
	JobStatusValidated JobStatus = "VALIDATED"
	JobStatusInvalid   JobStatus = "INVALID"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// RowError is one failed rule on one upload row.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
}

// ValidationReport is the outcome of the validate phase of an upload.
type ValidationReport struct {
	ValidRows       []StudentInput `json:"valid_rows"`
	Errors          []RowError     `json:"errors"`
	TotalRows       int            `json:"total_rows"`
	InvalidRowCount int            `json:"invalid_row_count"`
}

func (r *ValidationReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// UploadJob tracks one uploaded spreadsheet from validation to completion.
type UploadJob struct {
	ID           string     `json:"id" db:"id"`
	FileName     string     `json:"file_name" db:"file_name"`
	S3Path       string     `json:"s3_path" db:"s3_path"`
	ReportPath   *string    `json:"report_path,omitempty" db:"report_path"`
	Scope        Scope      `json:"scope" db:"scope"`
	Status       JobStatus  `json:"status" db:"status"`
	TotalRows    int        `json:"total_rows" db:"total_rows"`
	ValidRows    int        `json:"valid_rows" db:"valid_rows"`
	SuccessCount int        `json:"success_count" db:"success_count"`
	FailureCount int        `json:"failure_count" db:"failure_count"`
	SkipInvalid  bool       `json:"skip_invalid" db:"skip_invalid"`
	Errors       []RowError `json:"errors,omitempty" db:"-"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedBy    string     `json:"created_by" db:"created_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// ProvisionJob is the queue message for a bulk run.
type ProvisionJob struct {
	JobID       string `json:"job_id"`
	S3Path      string `json:"s3_path"`
	FileName    string `json:"file_name"`
	Scope       Scope  `json:"scope"`
	SkipInvalid bool   `json:"skip_invalid"`
	RequestedBy string `json:"requested_by"`
}

// Progress is published after every processed row.
type Progress struct {
	JobID     string  `json:"job_id"`
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
}

type JobStatusResponse struct {
	Job      *UploadJob `json:"job"`
	Progress *Progress  `json:"progress,omitempty"`
}
