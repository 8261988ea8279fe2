package db

import (
	"context"
	"database/sql"
	"fmt"

	"mindleap-provisioning/internal/config"

	_ "github.com/go-sql-driver/mysql"
)

func NewConnection(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.Database.ConnectionLifetime)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS upload_jobs (
		id            CHAR(36)     NOT NULL PRIMARY KEY,
		file_name     VARCHAR(255) NOT NULL,
		s3_path       VARCHAR(512) NOT NULL,
		report_path   VARCHAR(512) NULL,
		scope         JSON         NOT NULL,
		status        VARCHAR(16)  NOT NULL,
		total_rows    INT          NOT NULL DEFAULT 0,
		valid_rows    INT          NOT NULL DEFAULT 0,
		success_count INT          NOT NULL DEFAULT 0,
		failure_count INT          NOT NULL DEFAULT 0,
		skip_invalid  BOOLEAN      NOT NULL DEFAULT FALSE,
		errors        JSON         NULL,
		error_message TEXT         NULL,
		created_by    VARCHAR(128) NOT NULL,
		created_at    DATETIME     NOT NULL,
		updated_at    DATETIME     NOT NULL,
		INDEX idx_upload_jobs_status (status, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS upload_outcomes (
		id            BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
		job_id        CHAR(36)     NOT NULL,
		row_num       INT          NOT NULL,
		name          VARCHAR(255) NOT NULL,
		student_id    VARCHAR(32)  NOT NULL DEFAULT '',
		email         VARCHAR(255) NOT NULL DEFAULT '',
		status        VARCHAR(16)  NOT NULL,
		error_message TEXT         NOT NULL,
		INDEX idx_upload_outcomes_job (job_id, row_num)
	)`,
}

// Migrate creates the job ledger tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
