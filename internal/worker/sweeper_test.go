package worker

import (
	"context"
	"testing"
	"time"

	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobSweeper(t *testing.T) {
	ctx := context.Background()
	jobs := db.NewMemoryJobRepository()

	for _, j := range []struct {
		id     string
		status model.JobStatus
	}{
		{"running", model.JobStatusRunning},
		{"queued", model.JobStatusQueued},
		{"done", model.JobStatusCompleted},
	} {
		require.NoError(t, jobs.CreateJob(ctx, &model.UploadJob{ID: j.id, Status: model.JobStatusValidated}))
		require.NoError(t, jobs.UpdateJobStatus(ctx, j.id, j.status, nil))
	}

	sweeper := NewJobSweeper(config.SweeperConfig{StaleAfter: 2 * time.Hour}, jobs)

	swept, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept, "fresh jobs are left alone")

	sweeper.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	swept, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	job, err := jobs.GetJob(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "abandoned")

	for id, want := range map[string]model.JobStatus{"queued": model.JobStatusQueued, "done": model.JobStatusCompleted} {
		job, err := jobs.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, job.Status, id)
	}
}

func TestJobSweeperDisabled(t *testing.T) {
	sweeper := NewJobSweeper(config.SweeperConfig{}, db.NewMemoryJobRepository())
	swept, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, swept)
}
