// Package registry allocates the short numeric codes that make up a student
// id: district codes (01-99), school codes (001-999, per district) and
// student serials (001-999, per school). Every allocation picks the lowest
// free value in its range; the store makes the scan and the write atomic.
package registry

import (
	"context"
	"fmt"
	"strings"

	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/logger"
	"mindleap-provisioning/internal/metrics"
	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/studentid"
	"mindleap-provisioning/pkg/errors"

	"github.com/rs/zerolog"
)

type codeRange struct {
	kind  string
	max   int
	width int
}

var (
	districtRange = codeRange{kind: "district", max: studentid.MaxDistrict, width: studentid.DistrictWidth}
	schoolRange   = codeRange{kind: "school", max: studentid.MaxSchool, width: studentid.SchoolWidth}
	serialRange   = codeRange{kind: "serial", max: studentid.MaxSerial, width: studentid.SerialWidth}
)

func (r codeRange) format(n int) string {
	return fmt.Sprintf("%0*d", r.width, n)
}

// lowestFree returns the first code in 1..max not present in taken.
func (r codeRange) lowestFree(taken map[string]bool) (string, error) {
	for n := 1; n <= r.max; n++ {
		code := r.format(n)
		if !taken[code] {
			return code, nil
		}
	}
	if r.kind == serialRange.kind {
		return "", errors.ErrSerialExhausted
	}
	return "", fmt.Errorf("%s codes 1-%d all taken: %w", r.kind, r.max, errors.ErrRangeExhausted)
}

func (r codeRange) used(taken map[string]bool) int {
	n := 0
	for i := 1; i <= r.max; i++ {
		if taken[r.format(i)] {
			n++
		}
	}
	return n
}

type Registry struct {
	repo db.Repository
	log  zerolog.Logger
}

func New(repo db.Repository) *Registry {
	return &Registry{
		repo: repo,
		log:  logger.Component("registry"),
	}
}

// ResolveOrCreateDistrict returns the code of the district called name in
// the state, allocating and persisting a new one when it does not exist.
func (r *Registry) ResolveOrCreateDistrict(ctx context.Context, stateCode, name string) (model.District, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.District{}, errors.ValidationError{Field: "District Name", Value: name, Message: "district name is required"}
	}
	if stateCode == "" {
		return model.District{}, errors.ValidationError{Field: "State Code", Value: stateCode, Message: "state code is required"}
	}

	district, created, err := r.repo.AllocateDistrict(ctx, stateCode, name, districtRange.lowestFree)
	if err != nil {
		return model.District{}, err
	}
	if created {
		metrics.CodesAllocated.WithLabelValues(districtRange.kind).Inc()
	}

	r.log.Info().
		Str("state", stateCode).
		Str("district", district.Name).
		Str("code", district.Code).
		Bool("created", created).
		Msg("District code resolved")
	return district, nil
}

// ResolveOrCreateSchool returns the school named school.Name in its district,
// allocating a code and persisting the school when it does not exist.
func (r *Registry) ResolveOrCreateSchool(ctx context.Context, school model.School) (model.School, error) {
	school.Name = strings.TrimSpace(school.Name)
	if school.Name == "" {
		return model.School{}, errors.ValidationError{Field: "School Name", Value: school.Name, Message: "school name is required"}
	}
	school.DistrictCode = studentid.PadDistrict(school.DistrictCode)
	if school.DistrictCode == "" {
		return model.School{}, errors.ValidationError{Field: "District Code", Value: school.DistrictCode, Message: "district code is required"}
	}

	state, err := r.repo.GetState(ctx, school.StateCode)
	if err != nil {
		return model.School{}, err
	}
	district := state.District(school.DistrictCode)
	if district == nil {
		return model.School{}, fmt.Errorf("district %s in state %s: %w", school.DistrictCode, school.StateCode, errors.ErrNotFound)
	}
	school.DistrictName = district.Name
	if school.Status == "" {
		school.Status = model.SchoolStatusActive
	}

	result, created, err := r.repo.AllocateSchool(ctx, school, schoolRange.lowestFree)
	if err != nil {
		return model.School{}, err
	}
	if created {
		metrics.CodesAllocated.WithLabelValues(schoolRange.kind).Inc()
	}

	r.log.Info().
		Str("school", result.Key().String()).
		Str("name", result.Name).
		Bool("created", created).
		Msg("School code resolved")
	return result, nil
}

// AllocateSerial reserves the lowest unused serial of the school. The
// caller must release the reservation with ReleaseSerial once the student
// document exists or provisioning gave up.
func (r *Registry) AllocateSerial(ctx context.Context, key model.SchoolKey) (string, error) {
	serial, err := r.repo.ReserveSerial(ctx, key, serialRange.lowestFree)
	if err != nil {
		return "", err
	}
	r.log.Debug().Str("school", key.String()).Str("serial", serial).Msg("Serial reserved")
	return serial, nil
}

func (r *Registry) ReleaseSerial(ctx context.Context, key model.SchoolKey, serial string) error {
	return r.repo.ReleaseSerial(ctx, key, serial)
}

// DistrictCapacity reports how many district codes are in use across all states.
func (r *Registry) DistrictCapacity(ctx context.Context) (model.Capacity, error) {
	states, err := r.repo.ListStates(ctx)
	if err != nil {
		return model.Capacity{}, err
	}
	taken := make(map[string]bool)
	for _, s := range states {
		for _, d := range s.Districts {
			taken[d.Code] = true
		}
	}
	return capacity(districtRange, "all", taken), nil
}

// SchoolCapacity reports how many school codes are in use in one district.
func (r *Registry) SchoolCapacity(ctx context.Context, stateCode, districtCode string) (model.Capacity, error) {
	districtCode = studentid.PadDistrict(districtCode)
	schools, err := r.repo.ListSchools(ctx, stateCode, districtCode)
	if err != nil {
		return model.Capacity{}, err
	}
	taken := make(map[string]bool, len(schools))
	for _, s := range schools {
		taken[s.Code] = true
	}
	return capacity(schoolRange, stateCode+"-"+districtCode, taken), nil
}

// SerialCapacity reports how many serials are in use in one school.
func (r *Registry) SerialCapacity(ctx context.Context, key model.SchoolKey) (model.Capacity, error) {
	ids, err := r.repo.ListStudentIDs(ctx, key)
	if err != nil {
		return model.Capacity{}, err
	}
	taken := make(map[string]bool, len(ids))
	for _, id := range ids {
		taken[studentid.SerialOf(id)] = true
	}
	return capacity(serialRange, key.String(), taken), nil
}

func capacity(r codeRange, scope string, taken map[string]bool) model.Capacity {
	used := r.used(taken)
	return model.Capacity{
		Kind:      r.kind,
		Scope:     scope,
		Used:      used,
		Free:      r.max - used,
		Exhausted: used >= r.max,
	}
}
