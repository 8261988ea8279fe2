package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/studentid"
	"mindleap-provisioning/pkg/errors"
)

// MemoryRepository keeps the registry and students in process. It backs the
// "memory" firebase backend and the tests.
type MemoryRepository struct {
	mu           sync.Mutex
	states       map[string]model.State
	schools      map[model.SchoolKey]model.School
	students     map[string]model.Student
	reservations map[model.SchoolKey]map[string]bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		states:       make(map[string]model.State),
		schools:      make(map[model.SchoolKey]model.School),
		students:     make(map[string]model.Student),
		reservations: make(map[model.SchoolKey]map[string]bool),
	}
}

func (r *MemoryRepository) ListStates(ctx context.Context) ([]model.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]model.State, 0, len(r.states))
	for _, s := range r.states {
		states = append(states, copyState(s))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Code < states[j].Code })
	return states, nil
}

func (r *MemoryRepository) GetState(ctx context.Context, code string) (*model.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[code]
	if !ok {
		return nil, fmt.Errorf("state %s: %w", code, errors.ErrNotFound)
	}
	cp := copyState(s)
	return &cp, nil
}

func (r *MemoryRepository) SaveState(ctx context.Context, state model.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state.Code] = copyState(state)
	return nil
}

// SaveSchool stores a school directly, bypassing code allocation. Used for
// seeding.
func (r *MemoryRepository) SaveSchool(school model.School) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schools[school.Key()] = school
}

func (r *MemoryRepository) ListSchools(ctx context.Context, stateCode, districtCode string) ([]model.School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var schools []model.School
	for _, s := range r.schools {
		if stateCode != "" && s.StateCode != stateCode {
			continue
		}
		if districtCode != "" && s.DistrictCode != districtCode {
			continue
		}
		schools = append(schools, s)
	}
	sort.Slice(schools, func(i, j int) bool { return schools[i].Key().String() < schools[j].Key().String() })
	return schools, nil
}

func (r *MemoryRepository) GetSchool(ctx context.Context, key model.SchoolKey) (*model.School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schools[key]
	if !ok {
		return nil, fmt.Errorf("school %s: %w", key, errors.ErrNotFound)
	}
	return &s, nil
}

func (r *MemoryRepository) GetStudent(ctx context.Context, studentID string) (*model.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.students[studentID]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, errors.ErrNotFound)
	}
	return &s, nil
}

func (r *MemoryRepository) ListStudentIDs(ctx context.Context, key model.SchoolKey) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.studentIDsLocked(key), nil
}

func (r *MemoryRepository) studentIDsLocked(key model.SchoolKey) []string {
	var ids []string
	for id, s := range r.students {
		if s.SchoolKey() == key {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *MemoryRepository) CreateStudent(ctx context.Context, student *model.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.students[student.StudentID]; exists {
		return fmt.Errorf("student %s: %w", student.StudentID, errors.ErrAlreadyExists)
	}
	r.students[student.StudentID] = *student
	return nil
}

func (r *MemoryRepository) UpdateStudentName(ctx context.Context, studentID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.students[studentID]
	if !ok {
		return fmt.Errorf("student %s: %w", studentID, errors.ErrNotFound)
	}
	s.Name = name
	r.students[studentID] = s
	return nil
}

func (r *MemoryRepository) DeleteStudent(ctx context.Context, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.students[studentID]; !ok {
		return fmt.Errorf("student %s: %w", studentID, errors.ErrNotFound)
	}
	delete(r.students, studentID)
	return nil
}

func (r *MemoryRepository) AllocateDistrict(ctx context.Context, stateCode, name string, pick PickFunc) (model.District, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[stateCode]
	if !ok {
		return model.District{}, false, fmt.Errorf("state %s: %w", stateCode, errors.ErrNotFound)
	}
	for _, d := range state.Districts {
		if strings.EqualFold(d.Name, name) {
			return d, false, nil
		}
	}

	taken := make(map[string]bool)
	for _, s := range r.states {
		for _, d := range s.Districts {
			taken[d.Code] = true
		}
	}
	code, err := pick(taken)
	if err != nil {
		return model.District{}, false, err
	}

	district := model.District{Code: code, Name: name}
	state.Districts = append(copyState(state).Districts, district)
	r.states[stateCode] = state
	return district, true, nil
}

func (r *MemoryRepository) AllocateSchool(ctx context.Context, school model.School, pick PickFunc) (model.School, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	taken := make(map[string]bool)
	for _, s := range r.schools {
		if s.StateCode != school.StateCode || s.DistrictCode != school.DistrictCode {
			continue
		}
		if strings.EqualFold(s.Name, school.Name) {
			return s, false, nil
		}
		taken[s.Code] = true
	}

	code, err := pick(taken)
	if err != nil {
		return model.School{}, false, err
	}
	school.Code = code
	r.schools[school.Key()] = school
	return school, true, nil
}

func (r *MemoryRepository) ReserveSerial(ctx context.Context, key model.SchoolKey, pick PickFunc) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	taken := make(map[string]bool)
	for _, id := range r.studentIDsLocked(key) {
		taken[studentid.SerialOf(id)] = true
	}
	for serial := range r.reservations[key] {
		taken[serial] = true
	}

	serial, err := pick(taken)
	if err != nil {
		return "", err
	}
	if r.reservations[key] == nil {
		r.reservations[key] = make(map[string]bool)
	}
	r.reservations[key][serial] = true
	return serial, nil
}

func (r *MemoryRepository) ReleaseSerial(ctx context.Context, key model.SchoolKey, serial string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.reservations[key], serial)
	return nil
}

func copyState(s model.State) model.State {
	districts := make([]model.District, len(s.Districts))
	copy(districts, s.Districts)
	s.Districts = districts
	return s
}
