package provision

import (
	"context"
	"fmt"
	"testing"

	"mindleap-provisioning/internal/auth"
	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/registry"
	"mindleap-provisioning/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	*db.MemoryRepository
	createErr error
}

func (f *failingStore) CreateStudent(ctx context.Context, student *model.Student) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.MemoryRepository.CreateStudent(ctx, student)
}

type fixture struct {
	svc      *Service
	repo     *db.MemoryRepository
	accounts *auth.MemoryProvider
}

func newFixture(t *testing.T, wrap func(*db.MemoryRepository) db.Repository) fixture {
	t.Helper()
	repo := db.NewMemoryRepository()
	require.NoError(t, repo.SaveState(context.Background(), model.State{
		Code:      "ML",
		Name:      "Meghalaya",
		Districts: []model.District{{Code: "03", Name: "West Garo Hills"}},
	}))
	repo.SaveSchool(model.School{Code: "007", Name: "Tura Govt School", StateCode: "ML", DistrictCode: "03", Status: model.SchoolStatusActive})
	repo.SaveSchool(model.School{Code: "008", Name: "Old Mission", StateCode: "ML", DistrictCode: "03", Status: model.SchoolStatusInactive})

	var store db.Repository = repo
	if wrap != nil {
		store = wrap(repo)
	}
	accounts := auth.NewMemoryProvider(0)

	n := 0
	svc := NewService(registry.New(store), store, accounts, Options{
		EmailDomain: "mindleap.edu",
		Passwords: func() (string, error) {
			n++
			return fmt.Sprintf("pass%03d", n), nil
		},
	})
	return fixture{svc: svc, repo: repo, accounts: accounts}
}

func student(name string) model.StudentInput {
	return model.StudentInput{Name: name, StateCode: "ML", DistrictCode: "03", SchoolCode: "007", CreatedBy: "op-1"}
}

func TestProvisionFirstStudent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out := f.svc.Provision(ctx, student("Asha"))
	require.Equal(t, model.OutcomeSuccess, out.Status, out.Error)
	assert.Equal(t, "ML2503007001", out.StudentID)
	assert.Equal(t, "ml2503007001@mindleap.edu", out.Email)
	assert.Equal(t, "pass001", out.Password)

	stored, err := f.repo.GetStudent(ctx, "ML2503007001")
	require.NoError(t, err)
	assert.Equal(t, "Asha", stored.Name)
	assert.Equal(t, "Tura Govt School", stored.SchoolName)
	assert.Equal(t, "op-1", stored.CreatedBy)
	assert.NotEmpty(t, stored.AuthUID)

	acc, err := f.accounts.SignIn(ctx, out.Email, out.Password)
	require.NoError(t, err)
	assert.Equal(t, stored.AuthUID, acc.UID)
}

func TestProvisionNormalizesCodes(t *testing.T) {
	f := newFixture(t, nil)

	in := student("Asha")
	in.StateCode, in.DistrictCode, in.SchoolCode = "ml", "3", "7"
	out := f.svc.Provision(context.Background(), in)
	require.Equal(t, model.OutcomeSuccess, out.Status, out.Error)
	assert.Equal(t, "ML2503007001", out.StudentID)
}

func TestProvisionRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(in *model.StudentInput)
		wantErr string
	}{
		{name: "missing name", mutate: func(in *model.StudentInput) { in.Name = "" }, wantErr: "Name is required"},
		{name: "bad class", mutate: func(in *model.StudentInput) { in.Class = "11" }, wantErr: "Class is invalid"},
		{name: "bad email", mutate: func(in *model.StudentInput) { in.Email = "nope" }, wantErr: "valid email"},
		{name: "unknown school", mutate: func(in *model.StudentInput) { in.SchoolCode = "123" }, wantErr: "not found"},
		{name: "inactive school", mutate: func(in *model.StudentInput) { in.SchoolCode = "008" }, wantErr: "inactive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			in := student("Asha")
			tt.mutate(&in)

			out := f.svc.Provision(context.Background(), in)
			assert.Equal(t, model.OutcomeFailed, out.Status)
			assert.Contains(t, out.Error, tt.wantErr)
			assert.Empty(t, out.StudentID)
			assert.Empty(t, out.Password)
			assert.Equal(t, 0, f.accounts.Count())
		})
	}
}

func TestRunBatchAssignsSerialsInOrder(t *testing.T) {
	f := newFixture(t, nil)

	var progress []model.Progress
	result := f.svc.RunBatch(context.Background(), []model.StudentInput{student("Asha"), student("Bina")}, func(p model.Progress) {
		progress = append(progress, p)
	})

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "ML2503007001", result.Outcomes[0].StudentID)
	assert.Equal(t, "ML2503007002", result.Outcomes[1].StudentID)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)

	require.Len(t, progress, 2)
	assert.Equal(t, 50.0, progress[0].Percent)
	assert.Equal(t, 100.0, progress[1].Percent)
	assert.Equal(t, 2, progress[1].Processed)
	assert.Equal(t, 2, progress[1].Succeeded)
}

func TestRunBatchContinuesAfterAccountFailure(t *testing.T) {
	f := newFixture(t, nil)

	dup := student("Bina")
	dup.Email = "shared@example.com"
	first := student("Asha")
	first.Email = "shared@example.com"

	result := f.svc.RunBatch(context.Background(), []model.StudentInput{first, dup, student("Cara")}, nil)

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)

	failed := result.Outcomes[1]
	assert.Equal(t, model.OutcomeFailed, failed.Status)
	assert.Equal(t, "Bina", failed.Name)
	assert.Contains(t, failed.Error, "already exists")

	assert.Equal(t, "ML2503007002", result.Outcomes[2].StudentID, "serial of the failed student is reused")
}

func TestProvisionRollsBackWhenProfileWriteFails(t *testing.T) {
	store := &failingStore{createErr: errors.NewRemoteError("create student", fmt.Errorf("deadline exceeded"))}
	f := newFixture(t, func(repo *db.MemoryRepository) db.Repository {
		store.MemoryRepository = repo
		return store
	})
	ctx := context.Background()

	out := f.svc.Provision(ctx, student("Asha"))
	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Contains(t, out.Error, "deadline exceeded")
	assert.Equal(t, 0, f.accounts.Count(), "orphaned login account is deleted")

	store.createErr = nil
	out = f.svc.Provision(ctx, student("Asha"))
	require.Equal(t, model.OutcomeSuccess, out.Status, out.Error)
	assert.Equal(t, "ML2503007001", out.StudentID, "serial reservation was released")
}

func TestDeleteStudent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out := f.svc.Provision(ctx, student("Asha"))
	require.Equal(t, model.OutcomeSuccess, out.Status, out.Error)

	require.NoError(t, f.svc.DeleteStudent(ctx, "ml2503007001"))
	_, err := f.repo.GetStudent(ctx, out.StudentID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, 0, f.accounts.Count())

	assert.ErrorIs(t, f.svc.DeleteStudent(ctx, out.StudentID), errors.ErrNotFound)

	again := f.svc.Provision(ctx, student("Bina"))
	assert.Equal(t, out.StudentID, again.StudentID, "deleted serial is free again")
}

func TestRenameStudent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	out := f.svc.Provision(ctx, student("Asha"))
	require.Equal(t, model.OutcomeSuccess, out.Status, out.Error)

	s, err := f.svc.RenameStudent(ctx, out.StudentID, "  Asha Marak ")
	require.NoError(t, err)
	assert.Equal(t, "Asha Marak", s.Name)

	stored, err := f.repo.GetStudent(ctx, out.StudentID)
	require.NoError(t, err)
	assert.Equal(t, "Asha Marak", stored.Name)

	_, err = f.svc.RenameStudent(ctx, out.StudentID, "A")
	var verr errors.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = f.svc.RenameStudent(ctx, "ML2503007999", "Somebody")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRandomPassword(t *testing.T) {
	gen := RandomPassword(6, 8)
	for i := 0; i < 50; i++ {
		p, err := gen()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(p), 6)
		assert.LessOrEqual(t, len(p), 8)
		assert.Regexp(t, `^[A-Za-z0-9]+$`, p)
	}
}
