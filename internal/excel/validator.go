package excel

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/studentid"
	"mindleap-provisioning/pkg/errors"
)

const (
	minNameLength = 2
	minAge        = 10
	maxAge        = 20
	minRowCells   = 4
)

var (
	allowedClasses = map[string]bool{"8": true, "9": true, "10": true}
	allowedGenders = map[string]string{"male": "Male", "female": "Female", "other": "Other"}
)

// CatalogSource is the part of the document store the validator reads.
type CatalogSource interface {
	ListStates(ctx context.Context) ([]model.State, error)
	ListSchools(ctx context.Context, stateCode, districtCode string) ([]model.School, error)
}

// Catalog is a snapshot of the registry taken once per upload.
type Catalog struct {
	states  map[string]model.State
	schools map[model.SchoolKey]model.School
}

func LoadCatalog(ctx context.Context, src CatalogSource) (*Catalog, error) {
	states, err := src.ListStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load states: %w", err)
	}
	schools, err := src.ListSchools(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load schools: %w", err)
	}

	c := &Catalog{
		states:  make(map[string]model.State, len(states)),
		schools: make(map[model.SchoolKey]model.School, len(schools)),
	}
	for _, s := range states {
		c.states[s.Code] = s
	}
	for _, s := range schools {
		c.schools[s.Key()] = s
	}
	return c, nil
}

type Validator struct {
	catalog       *Catalog
	ageRegex      *regexp.Regexp
	whatsappRegex *regexp.Regexp
	emailRegex    *regexp.Regexp
}

func NewValidator(catalog *Catalog) *Validator {
	return &Validator{
		catalog:       catalog,
		ageRegex:      regexp.MustCompile(`^(\d{1,3})(\.0+)?$`),
		whatsappRegex: regexp.MustCompile(`^\d{10}$`),
		emailRegex:    regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`),
	}
}

// Validate classifies every data row as valid or invalid. A missing
// required column or an empty file fails the whole upload; row problems
// are collected in the report.
func (v *Validator) Validate(ctx context.Context, rows [][]string, scope model.Scope) (*model.ValidationReport, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: file has no header row", errors.ErrInvalidFileFormat)
	}
	cols, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}

	report := &model.ValidationReport{}
	for i, row := range rows[1:] {
		if !admitRow(row) {
			continue
		}
		report.TotalRows++

		input, rowErrs := v.validateRow(row, cols, i+2, scope)
		if len(rowErrs) > 0 {
			report.Errors = append(report.Errors, rowErrs...)
			report.InvalidRowCount++
			continue
		}
		report.ValidRows = append(report.ValidRows, input)
	}

	if report.TotalRows == 0 {
		return nil, fmt.Errorf("%w: no student rows found", errors.ErrInvalidFileFormat)
	}
	return report, nil
}

func admitRow(row []string) bool {
	if len(row) < minRowCells {
		return false
	}
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return true
		}
	}
	return false
}

func (v *Validator) validateRow(row []string, cols columnMap, rowNum int, scope model.Scope) (model.StudentInput, []model.RowError) {
	name := cols.value(row, colName)
	input := model.StudentInput{
		Row:          rowNum,
		Name:         name,
		StateCode:    strings.ToUpper(cols.value(row, colState)),
		DistrictCode: studentid.PadDistrict(cols.value(row, colDistrict)),
		SchoolCode:   studentid.PadSchool(cols.value(row, colSchool)),
		ParentName:   cols.value(row, colParent),
		Address:      cols.value(row, colAddress),
	}

	var errs []model.RowError
	fail := func(c column, format string, args ...interface{}) {
		errs = append(errs, model.RowError{
			Row:     rowNum,
			Field:   columnLabels[c],
			Message: fmt.Sprintf(format, args...),
			Name:    name,
		})
	}

	v.checkPlacement(&input, scope, fail)

	if utf8.RuneCountInString(name) < minNameLength {
		if name == "" {
			fail(colName, "student name is required")
		} else {
			fail(colName, "student name must be at least %d characters", minNameLength)
		}
	}

	if class := cols.value(row, colClass); class != "" {
		if !allowedClasses[class] {
			fail(colClass, "class %q must be one of 8, 9, 10", class)
		}
		input.Class = class
	}

	if gender := cols.value(row, colGender); gender != "" {
		normalized, ok := allowedGenders[strings.ToLower(gender)]
		if !ok {
			fail(colGender, "gender %q must be one of Male, Female, Other", gender)
		}
		input.Gender = normalized
	}

	if ageStr := cols.value(row, colAge); ageStr != "" {
		// Spreadsheets may render whole numbers as "14.0".
		m := v.ageRegex.FindStringSubmatch(ageStr)
		age := 0
		if m != nil {
			age, _ = strconv.Atoi(m[1])
		}
		switch {
		case m == nil:
			fail(colAge, "age %q is not a whole number", ageStr)
		case age < minAge || age > maxAge:
			fail(colAge, "age %s is out of bounds (%d-%d)", ageStr, minAge, maxAge)
		default:
			input.Age = age
		}
	}

	if phone := cols.value(row, colWhatsApp); phone != "" {
		if !v.whatsappRegex.MatchString(phone) {
			fail(colWhatsApp, "whatsapp number %q must be exactly 10 digits", phone)
		}
		input.WhatsApp = phone
	}

	if email := cols.value(row, colEmail); email != "" {
		if !v.emailRegex.MatchString(email) {
			fail(colEmail, "email %q is not a valid address", email)
		}
		input.Email = email
	}

	return input, errs
}

// checkPlacement resolves state, district and school against the catalog
// and the operator's scope. Lower levels are only checked once the level
// above resolved.
func (v *Validator) checkPlacement(in *model.StudentInput, scope model.Scope, fail func(column, string, ...interface{})) {
	if in.StateCode == "" {
		fail(colState, "state code is required")
		return
	}
	state, ok := v.catalog.states[in.StateCode]
	if !ok {
		fail(colState, "unknown state code %s", in.StateCode)
		return
	}
	if !scope.AllowsState(in.StateCode) {
		fail(colState, "state %s is outside the selected scope", in.StateCode)
		return
	}

	if in.DistrictCode == "" {
		fail(colDistrict, "district code is required")
		return
	}
	if state.District(in.DistrictCode) == nil {
		fail(colDistrict, "district %s does not exist in state %s", in.DistrictCode, in.StateCode)
		return
	}
	if !scope.AllowsDistrict(in.DistrictCode) {
		fail(colDistrict, "district %s is outside the selected scope", in.DistrictCode)
		return
	}

	if in.SchoolCode == "" {
		fail(colSchool, "school code is required")
		return
	}
	key := in.SchoolKey()
	school, ok := v.catalog.schools[key]
	if !ok {
		fail(colSchool, "school %s does not exist in district %s of state %s", in.SchoolCode, in.DistrictCode, in.StateCode)
		return
	}
	if !scope.AllowsSchool(key) {
		fail(colSchool, "school %s is outside the selected scope", in.SchoolCode)
		return
	}
	if school.Status == model.SchoolStatusInactive {
		fail(colSchool, "school %s is inactive", in.SchoolCode)
	}
}

// ValidateFile parses an uploaded file with the strategy its extension
// selects and validates the rows.
func (v *Validator) ValidateFile(ctx context.Context, fileName string, data []byte, scope model.Scope) (*model.ValidationReport, error) {
	strategy, err := StrategyFor(fileName)
	if err != nil {
		return nil, err
	}
	rows, err := strategy.Parse(ctx, data)
	if err != nil {
		return nil, err
	}
	return v.Validate(ctx, rows, scope)
}
