package excel

import (
	"context"
	"strings"
	"testing"

	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var header = []string{"State Code", "District Code", "School Code", "Student Name", "Class", "Gender", "Age", "WhatsApp Number", "Email"}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	ctx := context.Background()
	repo := db.NewMemoryRepository()
	require.NoError(t, repo.SaveState(ctx, model.State{
		Code: "ML",
		Name: "Meghalaya",
		Districts: []model.District{
			{Code: "01", Name: "East Khasi Hills"},
			{Code: "03", Name: "West Garo Hills"},
		},
	}))
	require.NoError(t, repo.SaveState(ctx, model.State{Code: "AS", Name: "Assam", Districts: []model.District{{Code: "02", Name: "Kamrup"}}}))
	repo.SaveSchool(model.School{Code: "007", Name: "Tura Govt School", StateCode: "ML", DistrictCode: "03", Status: model.SchoolStatusActive})
	repo.SaveSchool(model.School{Code: "002", Name: "Closed School", StateCode: "ML", DistrictCode: "03", Status: model.SchoolStatusInactive})
	repo.SaveSchool(model.School{Code: "001", Name: "Shillong High", StateCode: "ML", DistrictCode: "01", Status: model.SchoolStatusActive})
	repo.SaveSchool(model.School{Code: "005", Name: "Guwahati Public", StateCode: "AS", DistrictCode: "02", Status: model.SchoolStatusActive})

	catalog, err := LoadCatalog(ctx, repo)
	require.NoError(t, err)
	return NewValidator(catalog)
}

func TestValidateRowRules(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name      string
		row       []string
		wantField string
		wantMsg   string
	}{
		{name: "valid row", row: []string{"ML", "03", "007", "Asha", "9", "female", "14", "9876543210", "asha@example.com"}},
		{name: "age out of bounds", row: []string{"ML", "03", "007", "Asha", "9", "Female", "25"}, wantField: "Age", wantMsg: "out of bounds (10-20)"},
		{name: "age not a number", row: []string{"ML", "03", "007", "Asha", "9", "Female", "ten"}, wantField: "Age", wantMsg: "not a whole number"},
		{name: "age NaN", row: []string{"ML", "03", "007", "Asha", "9", "Female", "NaN"}, wantField: "Age", wantMsg: "not a whole number"},
		{name: "age lowercase nan", row: []string{"ML", "03", "007", "Asha", "9", "Female", "nan"}, wantField: "Age", wantMsg: "not a whole number"},
		{name: "age fractional", row: []string{"ML", "03", "007", "Asha", "9", "Female", "15.7"}, wantField: "Age", wantMsg: "not a whole number"},
		{name: "age hex float", row: []string{"ML", "03", "007", "Asha", "9", "Female", "0x1p4"}, wantField: "Age", wantMsg: "not a whole number"},
		{name: "age infinity", row: []string{"ML", "03", "007", "Asha", "9", "Female", "Inf"}, wantField: "Age", wantMsg: "not a whole number"},
		{name: "short whatsapp", row: []string{"ML", "03", "007", "Asha", "", "", "", "12345"}, wantField: "WhatsApp Number", wantMsg: "10 digits"},
		{name: "unknown state", row: []string{"XX", "03", "007", "Asha"}, wantField: "State Code", wantMsg: "unknown state"},
		{name: "unknown district", row: []string{"ML", "09", "007", "Asha"}, wantField: "District Code", wantMsg: "does not exist"},
		{name: "unknown school", row: []string{"ML", "03", "123", "Asha"}, wantField: "School Code", wantMsg: "does not exist"},
		{name: "inactive school", row: []string{"ML", "03", "002", "Asha"}, wantField: "School Code", wantMsg: "inactive"},
		{name: "name too short", row: []string{"ML", "03", "007", "A"}, wantField: "Student Name", wantMsg: "at least 2"},
		{name: "bad class", row: []string{"ML", "03", "007", "Asha", "12"}, wantField: "Class", wantMsg: "8, 9, 10"},
		{name: "bad gender", row: []string{"ML", "03", "007", "Asha", "9", "unknown"}, wantField: "Gender"},
		{name: "bad email", row: []string{"ML", "03", "007", "Asha", "", "", "", "", "not-an-email"}, wantField: "Email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := v.Validate(context.Background(), [][]string{header, tt.row}, model.Scope{})
			require.NoError(t, err)
			assert.Equal(t, 1, report.TotalRows)

			if tt.wantField == "" {
				assert.False(t, report.HasErrors())
				assert.Len(t, report.ValidRows, 1)
				return
			}
			require.Len(t, report.Errors, 1)
			assert.Equal(t, tt.wantField, report.Errors[0].Field)
			assert.Equal(t, 2, report.Errors[0].Row)
			assert.Contains(t, report.Errors[0].Message, tt.wantMsg)
			assert.Empty(t, report.ValidRows)
			assert.Equal(t, 1, report.InvalidRowCount)
		})
	}
}

func TestValidateAgeWholeNumbers(t *testing.T) {
	v := newValidator(t)

	for raw, want := range map[string]int{"14": 14, "14.0": 14, "020": 20, "10": 10} {
		report, err := v.Validate(context.Background(), [][]string{header, {"ML", "03", "007", "Asha", "9", "Female", raw}}, model.Scope{})
		require.NoError(t, err)
		require.False(t, report.HasErrors(), raw)
		require.Len(t, report.ValidRows, 1)
		assert.Equal(t, want, report.ValidRows[0].Age, raw)
	}
}

func TestValidateNormalizesRow(t *testing.T) {
	v := newValidator(t)

	report, err := v.Validate(context.Background(), [][]string{
		header,
		{" ml ", "3", "7", "  Asha Sangma ", "10", "FEMALE", "14.0"},
	}, model.Scope{})
	require.NoError(t, err)
	require.Len(t, report.ValidRows, 1)

	in := report.ValidRows[0]
	assert.Equal(t, "ML", in.StateCode)
	assert.Equal(t, "03", in.DistrictCode)
	assert.Equal(t, "007", in.SchoolCode, "school codes are padded to three digits")
	assert.Equal(t, "Asha Sangma", in.Name)
	assert.Equal(t, "Female", in.Gender)
	assert.Equal(t, 14, in.Age)
}

func TestValidateScope(t *testing.T) {
	v := newValidator(t)
	rows := [][]string{
		header,
		{"ML", "03", "007", "Asha"},
		{"AS", "02", "005", "Bina"},
		{"ML", "01", "001", "Cara"},
	}

	tests := []struct {
		name        string
		scope       model.Scope
		wantValid   []string
		wantInvalid map[int]string
	}{
		{
			name:      "empty scope allows everything",
			wantValid: []string{"Asha", "Bina", "Cara"},
		},
		{
			name:        "state scope",
			scope:       model.Scope{States: []string{"ML"}},
			wantValid:   []string{"Asha", "Cara"},
			wantInvalid: map[int]string{3: "State Code"},
		},
		{
			name:        "district scope",
			scope:       model.Scope{States: []string{"ML"}, Districts: []string{"03"}},
			wantValid:   []string{"Asha"},
			wantInvalid: map[int]string{3: "State Code", 4: "District Code"},
		},
		{
			name:        "school scope",
			scope:       model.Scope{Schools: []model.SchoolKey{{StateCode: "ML", DistrictCode: "01", SchoolCode: "001"}}},
			wantValid:   []string{"Cara"},
			wantInvalid: map[int]string{2: "School Code", 3: "School Code"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := v.Validate(context.Background(), rows, tt.scope)
			require.NoError(t, err)

			var names []string
			for _, in := range report.ValidRows {
				names = append(names, in.Name)
			}
			assert.Equal(t, tt.wantValid, names)

			got := make(map[int]string)
			for _, e := range report.Errors {
				got[e.Row] = e.Field
			}
			if len(tt.wantInvalid) == 0 {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.wantInvalid, got)
			}
		})
	}
}

func TestValidateCountsRowsOnce(t *testing.T) {
	v := newValidator(t)

	report, err := v.Validate(context.Background(), [][]string{
		header,
		{"ML", "03", "007", "A", "12", "robot", "99", "123", "nope"},
		{"", "", "", "", ""},
		{"ML"},
		{"ML", "03", "007", "Dorothy"},
	}, model.Scope{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalRows, "blank and short rows are ignored")
	assert.Equal(t, 1, report.InvalidRowCount)
	assert.Len(t, report.Errors, 6)
	assert.Len(t, report.ValidRows, 1)
	assert.Equal(t, 5, report.ValidRows[0].Row)
}

func TestValidateFileErrors(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	_, err := v.Validate(ctx, nil, model.Scope{})
	assert.ErrorIs(t, err, errors.ErrInvalidFileFormat)

	_, err = v.Validate(ctx, [][]string{header}, model.Scope{})
	assert.ErrorIs(t, err, errors.ErrInvalidFileFormat)

	_, err = v.Validate(ctx, [][]string{{"State Code", "Student Name"}, {"ML", "Asha"}}, model.Scope{})
	assert.ErrorIs(t, err, errors.ErrMissingColumn)
	assert.Contains(t, err.Error(), "District Code")
	assert.Contains(t, err.Error(), "School Code")

	_, err = v.ValidateFile(ctx, "students.pdf", []byte("%PDF"), model.Scope{})
	assert.ErrorIs(t, err, errors.ErrInvalidFileFormat)
}

func TestMapHeaderFuzzy(t *testing.T) {
	cols, err := mapHeader([]string{"Parent WhatsApp", "Parent's Name", "Name of Student", "STATE", "District", "School", "Grade", "Sex", "Age (years)", "E-mail", "Home Address", "School Name"})
	require.NoError(t, err)

	assert.Equal(t, 0, cols[colWhatsApp])
	assert.Equal(t, 1, cols[colParent])
	assert.Equal(t, 2, cols[colName])
	assert.Equal(t, 3, cols[colState])
	assert.Equal(t, 4, cols[colDistrict])
	assert.Equal(t, 5, cols[colSchool])
	assert.Equal(t, 6, cols[colClass])
	assert.Equal(t, 7, cols[colGender])
	assert.Equal(t, 8, cols[colAge])
	assert.Equal(t, 9, cols[colEmail])
	assert.Equal(t, 10, cols[colAddress])
}

func TestCSVUpload(t *testing.T) {
	v := newValidator(t)
	data := "\xef\xbb\xbf" + strings.Join([]string{
		"State Code,District Code,School Code,Student Name,Age",
		"ML,03,7,Asha,14",
		"ML,03,007,Bina,25",
	}, "\n")

	report, err := v.ValidateFile(context.Background(), "batch.CSV", []byte(data), model.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalRows)
	require.Len(t, report.ValidRows, 1)
	assert.Equal(t, "007", report.ValidRows[0].SchoolCode)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "Age", report.Errors[0].Field)
	assert.Equal(t, 3, report.Errors[0].Row)
}

func TestTemplateRoundTrip(t *testing.T) {
	data, err := StudentTemplate()
	require.NoError(t, err)

	rows, err := (&XLSXStrategy{}).Parse(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, TemplateHeaders, rows[0])

	report, err := newValidator(t).Validate(context.Background(), rows, model.Scope{})
	require.NoError(t, err)
	assert.False(t, report.HasErrors(), "the example row in the template is valid")
	require.Len(t, report.ValidRows, 1)
	assert.Equal(t, "Asha Sangma", report.ValidRows[0].Name)
}

func TestOutcomeReport(t *testing.T) {
	data, err := OutcomeReport(model.BatchResult{
		Outcomes: []model.Outcome{
			{Row: 2, Name: "Asha", StudentID: "ML2503007001", Email: "ml2503007001@mindleap.edu", Password: "a1b2c3", Status: model.OutcomeSuccess},
			{Row: 3, Name: "Bina", Status: model.OutcomeFailed, Error: "email already exists"},
		},
		SuccessCount: 1,
		FailureCount: 1,
	})
	require.NoError(t, err)

	rows, err := (&XLSXStrategy{}).Parse(context.Background(), data)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.Equal(t, []string{"2", "Asha", "ML2503007001", "ml2503007001@mindleap.edu", "a1b2c3", "success"}, rows[1][:6])
	assert.Equal(t, "email already exists", rows[2][6])
}
