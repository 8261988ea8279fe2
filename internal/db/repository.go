package db

import (
	"context"

	"mindleap-provisioning/internal/model"
)

// PickFunc chooses a free code given the set of codes already taken in the
// scope. It runs inside the store's atomic section and may be retried.
type PickFunc func(taken map[string]bool) (string, error)

// Repository is the document store behind the registry and the student
// records. Allocation methods are atomic: the scan, the pick and the write
// happen in one transaction so concurrent operators cannot collide.
type Repository interface {
	ListStates(ctx context.Context) ([]model.State, error)
	GetState(ctx context.Context, code string) (*model.State, error)
	SaveState(ctx context.Context, state model.State) error

	ListSchools(ctx context.Context, stateCode, districtCode string) ([]model.School, error)
	GetSchool(ctx context.Context, key model.SchoolKey) (*model.School, error)

	GetStudent(ctx context.Context, studentID string) (*model.Student, error)
	ListStudentIDs(ctx context.Context, key model.SchoolKey) ([]string, error)
	CreateStudent(ctx context.Context, student *model.Student) error
	UpdateStudentName(ctx context.Context, studentID, name string) error
	DeleteStudent(ctx context.Context, studentID string) error

	// AllocateDistrict returns the district named name under stateCode,
	// creating it with a code from pick when it does not exist yet. Taken
	// codes span every state.
	AllocateDistrict(ctx context.Context, stateCode, name string, pick PickFunc) (model.District, bool, error)

	// AllocateSchool returns the school matching (state, district, name),
	// creating it with a code from pick when it does not exist yet.
	AllocateSchool(ctx context.Context, school model.School, pick PickFunc) (model.School, bool, error)

	// ReserveSerial records a serial for the school. Taken serials are the
	// trailing digits of existing student ids plus outstanding reservations.
	ReserveSerial(ctx context.Context, key model.SchoolKey, pick PickFunc) (string, error)

	// ReleaseSerial drops a reservation, after the student document was
	// written or when provisioning gave up.
	ReleaseSerial(ctx context.Context, key model.SchoolKey, serial string) error
}
