package storage

import (
	"context"
	"strings"
	"testing"

	"mindleap-provisioning/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "uploads/job-1/students.xlsx", UploadKey("job-1", "../../etc/students.xlsx"))
	assert.Equal(t, "reports/job-1/outcomes.xlsx", ReportKey("job-1"))
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	_, err := ReadAll(ctx, s, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	require.NoError(t, s.Upload(ctx, "a", strings.NewReader("hello")))
	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := ReadAll(ctx, s, "a")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, s.Delete(ctx, "a"))
	ok, err = s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
