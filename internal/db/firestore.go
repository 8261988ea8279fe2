package db

import (
	"context"
	"fmt"
	"strings"

	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/studentid"
	"mindleap-provisioning/pkg/errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	statesCollection       = "states"
	schoolsCollection      = "schools"
	studentsCollection     = "students"
	reservationsCollection = "serial_reservations"
)

type reservationDoc struct {
	Serials []string `firestore:"serials"`
}

type FirestoreRepository struct {
	client *firestore.Client
}

func NewFirestoreRepository(client *firestore.Client) *FirestoreRepository {
	return &FirestoreRepository{client: client}
}

func (r *FirestoreRepository) ListStates(ctx context.Context) ([]model.State, error) {
	snaps, err := r.client.Collection(statesCollection).OrderBy("code", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, storeErr("list states", err)
	}
	return decodeStates(snaps)
}

func (r *FirestoreRepository) GetState(ctx context.Context, code string) (*model.State, error) {
	snap, err := r.client.Collection(statesCollection).Doc(code).Get(ctx)
	if err != nil {
		return nil, storeErr("get state "+code, err)
	}
	var state model.State
	if err := snap.DataTo(&state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", code, err)
	}
	return &state, nil
}

func (r *FirestoreRepository) SaveState(ctx context.Context, state model.State) error {
	_, err := r.client.Collection(statesCollection).Doc(state.Code).Set(ctx, state)
	return storeErr("save state "+state.Code, err)
}

func (r *FirestoreRepository) ListSchools(ctx context.Context, stateCode, districtCode string) ([]model.School, error) {
	q := r.client.Collection(schoolsCollection).Query
	if stateCode != "" {
		q = q.Where("state_code", "==", stateCode)
	}
	if districtCode != "" {
		q = q.Where("district_code", "==", districtCode)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, storeErr("list schools", err)
	}
	return decodeSchools(snaps)
}

func (r *FirestoreRepository) GetSchool(ctx context.Context, key model.SchoolKey) (*model.School, error) {
	snap, err := r.client.Collection(schoolsCollection).Doc(key.String()).Get(ctx)
	if err != nil {
		return nil, storeErr("get school "+key.String(), err)
	}
	var school model.School
	if err := snap.DataTo(&school); err != nil {
		return nil, fmt.Errorf("decode school %s: %w", key, err)
	}
	return &school, nil
}

func (r *FirestoreRepository) GetStudent(ctx context.Context, studentID string) (*model.Student, error) {
	snap, err := r.client.Collection(studentsCollection).Doc(studentID).Get(ctx)
	if err != nil {
		return nil, storeErr("get student "+studentID, err)
	}
	var student model.Student
	if err := snap.DataTo(&student); err != nil {
		return nil, fmt.Errorf("decode student %s: %w", studentID, err)
	}
	return &student, nil
}

func (r *FirestoreRepository) ListStudentIDs(ctx context.Context, key model.SchoolKey) ([]string, error) {
	snaps, err := r.schoolStudents(key).Documents(ctx).GetAll()
	if err != nil {
		return nil, storeErr("list students of "+key.String(), err)
	}
	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.Ref.ID)
	}
	return ids, nil
}

// CreateStudent uses the student id as document id, so a duplicate id
// fails with AlreadyExists instead of overwriting.
func (r *FirestoreRepository) CreateStudent(ctx context.Context, student *model.Student) error {
	_, err := r.client.Collection(studentsCollection).Doc(student.StudentID).Create(ctx, student)
	return storeErr("create student "+student.StudentID, err)
}

func (r *FirestoreRepository) UpdateStudentName(ctx context.Context, studentID, name string) error {
	_, err := r.client.Collection(studentsCollection).Doc(studentID).Update(ctx, []firestore.Update{
		{Path: "name", Value: name},
	})
	return storeErr("update student "+studentID, err)
}

func (r *FirestoreRepository) DeleteStudent(ctx context.Context, studentID string) error {
	ref := r.client.Collection(studentsCollection).Doc(studentID)
	_, err := ref.Delete(ctx, firestore.Exists)
	return storeErr("delete student "+studentID, err)
}

func (r *FirestoreRepository) AllocateDistrict(ctx context.Context, stateCode, name string, pick PickFunc) (model.District, bool, error) {
	var (
		district model.District
		created  bool
	)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(r.client.Collection(statesCollection)).GetAll()
		if err != nil {
			return err
		}
		states, err := decodeStates(snaps)
		if err != nil {
			return err
		}

		var target *model.State
		taken := make(map[string]bool)
		for i := range states {
			for _, d := range states[i].Districts {
				taken[d.Code] = true
			}
			if states[i].Code == stateCode {
				target = &states[i]
			}
		}
		if target == nil {
			return fmt.Errorf("state %s: %w", stateCode, errors.ErrNotFound)
		}
		for _, d := range target.Districts {
			if strings.EqualFold(d.Name, name) {
				district, created = d, false
				return nil
			}
		}

		code, err := pick(taken)
		if err != nil {
			return err
		}
		district, created = model.District{Code: code, Name: name}, true
		return tx.Update(r.client.Collection(statesCollection).Doc(stateCode), []firestore.Update{
			{Path: "districts", Value: firestore.ArrayUnion(district)},
		})
	})
	if err != nil {
		return model.District{}, false, txErr("allocate district", err)
	}
	return district, created, nil
}

func (r *FirestoreRepository) AllocateSchool(ctx context.Context, school model.School, pick PickFunc) (model.School, bool, error) {
	var (
		result  model.School
		created bool
	)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		q := r.client.Collection(schoolsCollection).
			Where("state_code", "==", school.StateCode).
			Where("district_code", "==", school.DistrictCode)
		snaps, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		existing, err := decodeSchools(snaps)
		if err != nil {
			return err
		}

		taken := make(map[string]bool, len(existing))
		for _, s := range existing {
			if strings.EqualFold(s.Name, school.Name) {
				result, created = s, false
				return nil
			}
			taken[s.Code] = true
		}

		code, err := pick(taken)
		if err != nil {
			return err
		}
		result = school
		result.Code = code
		created = true
		return tx.Create(r.client.Collection(schoolsCollection).Doc(result.Key().String()), result)
	})
	if err != nil {
		return model.School{}, false, txErr("allocate school", err)
	}
	return result, created, nil
}

func (r *FirestoreRepository) ReserveSerial(ctx context.Context, key model.SchoolKey, pick PickFunc) (string, error) {
	var serial string
	ref := r.client.Collection(reservationsCollection).Doc(key.String())

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var reserved reservationDoc
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&reserved); err != nil {
				return err
			}
		case status.Code(err) == codes.NotFound:
		default:
			return err
		}

		snaps, err := tx.Documents(r.schoolStudents(key)).GetAll()
		if err != nil {
			return err
		}

		taken := make(map[string]bool, len(snaps)+len(reserved.Serials))
		for _, s := range snaps {
			taken[studentid.SerialOf(s.Ref.ID)] = true
		}
		for _, s := range reserved.Serials {
			taken[s] = true
		}

		serial, err = pick(taken)
		if err != nil {
			return err
		}
		reserved.Serials = append(reserved.Serials, serial)
		return tx.Set(ref, reserved)
	})
	if err != nil {
		return "", txErr("reserve serial for "+key.String(), err)
	}
	return serial, nil
}

func (r *FirestoreRepository) ReleaseSerial(ctx context.Context, key model.SchoolKey, serial string) error {
	_, err := r.client.Collection(reservationsCollection).Doc(key.String()).Update(ctx, []firestore.Update{
		{Path: "serials", Value: firestore.ArrayRemove(serial)},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return storeErr("release serial "+serial+" of "+key.String(), err)
}

func (r *FirestoreRepository) schoolStudents(key model.SchoolKey) firestore.Query {
	return r.client.Collection(studentsCollection).
		Where("state_code", "==", key.StateCode).
		Where("district_code", "==", key.DistrictCode).
		Where("school_code", "==", key.SchoolCode)
}

func decodeStates(snaps []*firestore.DocumentSnapshot) ([]model.State, error) {
	states := make([]model.State, 0, len(snaps))
	for _, snap := range snaps {
		var s model.State
		if err := snap.DataTo(&s); err != nil {
			return nil, fmt.Errorf("decode state %s: %w", snap.Ref.ID, err)
		}
		states = append(states, s)
	}
	return states, nil
}

func decodeSchools(snaps []*firestore.DocumentSnapshot) ([]model.School, error) {
	schools := make([]model.School, 0, len(snaps))
	for _, snap := range snaps {
		var s model.School
		if err := snap.DataTo(&s); err != nil {
			return nil, fmt.Errorf("decode school %s: %w", snap.Ref.ID, err)
		}
		schools = append(schools, s)
	}
	return schools, nil
}

// storeErr maps Firestore status codes onto the package sentinels and wraps
// everything else as a remote failure.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, errors.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", op, errors.ErrAlreadyExists)
	}
	return errors.NewRemoteError(op, err)
}

// txErr keeps allocation sentinels returned by PickFunc intact.
func txErr(op string, err error) error {
	if errors.Is(err, errors.ErrRangeExhausted) || errors.Is(err, errors.ErrNotFound) {
		return err
	}
	return storeErr(op, err)
}
