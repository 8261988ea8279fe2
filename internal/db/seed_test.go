package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mindleap-provisioning/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "states.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
states:
  - code: ml
    name: Meghalaya
    districts:
      - { code: "3", name: West Garo Hills }
  - code: AS
    name: Assam
`), 0o600))

	states, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "ML", states[0].Code)
	assert.Equal(t, "03", states[0].Districts[0].Code)

	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.SaveState(ctx, model.State{Code: "AS", Name: "Assam", Districts: []model.District{{Code: "02", Name: "Kamrup"}}}))

	created, err := ApplySeed(ctx, repo, states)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	as, err := repo.GetState(ctx, "AS")
	require.NoError(t, err)
	assert.Len(t, as.Districts, 1, "existing states keep their districts")
}
