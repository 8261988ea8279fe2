package storage

import (
	"context"
	"fmt"
	"io"
	"path"
)

// Storage holds uploaded spreadsheets and generated reports.
type Storage interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, data io.Reader) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// UploadKey is where the original file of an upload job is kept.
func UploadKey(jobID, fileName string) string {
	return fmt.Sprintf("uploads/%s/%s", jobID, path.Base(fileName))
}

// ReportKey is where the outcome report of a finished job is kept.
func ReportKey(jobID string) string {
	return fmt.Sprintf("reports/%s/outcomes.xlsx", jobID)
}

// ReadAll downloads key fully into memory.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	body, err := s.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}
