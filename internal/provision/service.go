// Package provision turns a validated student record into a student id, a
// login account and a stored profile.
package provision

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"mindleap-provisioning/internal/auth"
	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/logger"
	"mindleap-provisioning/internal/metrics"
	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/registry"
	"mindleap-provisioning/internal/studentid"
	"mindleap-provisioning/pkg/errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ProgressFunc is called after every student of a batch.
type ProgressFunc func(p model.Progress)

type Service struct {
	registry    *registry.Registry
	repo        db.Repository
	accounts    auth.Provider
	passwords   PasswordFunc
	emailDomain string
	validate    *validator.Validate
	now         func() time.Time
	log         zerolog.Logger
}

type Options struct {
	EmailDomain string
	Passwords   PasswordFunc
}

func NewService(reg *registry.Registry, repo db.Repository, accounts auth.Provider, opts Options) *Service {
	if opts.Passwords == nil {
		opts.Passwords = RandomPassword(6, 8)
	}
	return &Service{
		registry:    reg,
		repo:        repo,
		accounts:    accounts,
		passwords:   opts.Passwords,
		emailDomain: opts.EmailDomain,
		validate:    validator.New(),
		now:         time.Now,
		log:         logger.Component("provision"),
	}
}

// Provision creates one student. It never returns an error: every failure
// is reported in the outcome, and partial work is undone.
func (s *Service) Provision(ctx context.Context, in model.StudentInput) model.Outcome {
	start := s.now()
	in = normalize(in)
	outcome := model.Outcome{Row: in.Row, Name: in.Name}

	log := s.log.With().
		Int("row", in.Row).
		Str("school", in.SchoolKey().String()).
		Logger()

	fail := func(err error) model.Outcome {
		outcome.Status = model.OutcomeFailed
		outcome.Error = err.Error()
		outcome.StudentID, outcome.Email, outcome.Password = "", "", ""
		metrics.StudentsProvisioned.WithLabelValues(string(model.OutcomeFailed)).Inc()
		log.Warn().Err(err).Str("name", in.Name).Msg("Student provisioning failed")
		return outcome
	}

	if err := s.checkInput(in); err != nil {
		return fail(err)
	}

	school, err := s.repo.GetSchool(ctx, in.SchoolKey())
	if err != nil {
		return fail(err)
	}
	if school.Status == model.SchoolStatusInactive {
		return fail(fmt.Errorf("school %s is inactive", school.Key()))
	}

	key := in.SchoolKey()
	serial, err := s.registry.AllocateSerial(ctx, key)
	if err != nil {
		return fail(err)
	}
	defer s.releaseSerial(key, serial, log)

	id := studentid.Compose(studentid.Parts{
		StateCode:    in.StateCode,
		DistrictCode: in.DistrictCode,
		SchoolCode:   in.SchoolCode,
		Serial:       serial,
	})
	email := in.Email
	if email == "" {
		email = studentid.Email(id, s.emailDomain)
	}
	password, err := s.passwords()
	if err != nil {
		return fail(fmt.Errorf("failed to generate password: %w", err))
	}
	outcome.StudentID, outcome.Email = id, email
	log = log.With().Str("student_id", id).Logger()

	account, err := s.accounts.CreateAccount(ctx, email, password, in.Name)
	if err != nil {
		return fail(err)
	}
	log.Debug().Str("uid", account.UID).Msg("Login account created")

	student := &model.Student{
		StudentID:    id,
		Name:         in.Name,
		StateCode:    in.StateCode,
		DistrictCode: in.DistrictCode,
		SchoolCode:   in.SchoolCode,
		SchoolName:   school.Name,
		AuthUID:      account.UID,
		Email:        account.Email,
		Class:        in.Class,
		Gender:       in.Gender,
		Age:          in.Age,
		ParentName:   in.ParentName,
		WhatsApp:     in.WhatsApp,
		Address:      in.Address,
		CreatedAt:    s.now().UTC(),
		CreatedBy:    in.CreatedBy,
	}
	if err := s.repo.CreateStudent(ctx, student); err != nil {
		s.deleteAccount(account.UID, log)
		return fail(err)
	}

	outcome.Status = model.OutcomeSuccess
	outcome.Email = account.Email
	outcome.Password = password
	metrics.StudentsProvisioned.WithLabelValues(string(model.OutcomeSuccess)).Inc()
	metrics.ProvisionDuration.Observe(s.now().Sub(start).Seconds())
	log.Info().Msg("Student provisioned")
	return outcome
}

// RunBatch provisions inputs one after another in order. A failed student
// does not stop the batch.
func (s *Service) RunBatch(ctx context.Context, inputs []model.StudentInput, progress ProgressFunc) model.BatchResult {
	result := model.BatchResult{Outcomes: make([]model.Outcome, 0, len(inputs))}
	total := len(inputs)

	s.log.Info().Int("total", total).Msg("Starting provisioning batch")

	for i, in := range inputs {
		outcome := s.Provision(ctx, in)
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Status == model.OutcomeSuccess {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}

		if progress != nil {
			progress(model.Progress{
				Processed: i + 1,
				Total:     total,
				Percent:   float64(i+1) / float64(total) * 100,
				Succeeded: result.SuccessCount,
				Failed:    result.FailureCount,
			})
		}
	}

	s.log.Info().
		Int("succeeded", result.SuccessCount).
		Int("failed", result.FailureCount).
		Msg("Provisioning batch finished")
	return result
}

func (s *Service) GetStudent(ctx context.Context, studentID string) (*model.Student, error) {
	return s.repo.GetStudent(ctx, strings.ToUpper(strings.TrimSpace(studentID)))
}

// DeleteStudent removes the profile, then the login account. A failure to
// delete the account is logged and does not fail the call.
func (s *Service) DeleteStudent(ctx context.Context, studentID string) error {
	student, err := s.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteStudent(ctx, student.StudentID); err != nil {
		return err
	}

	log := s.log.With().Str("student_id", student.StudentID).Logger()
	if student.AuthUID != "" {
		s.deleteAccount(student.AuthUID, log)
	}
	log.Info().Msg("Student deleted")
	return nil
}

// RenameStudent changes the display name, the only mutable profile field.
func (s *Service) RenameStudent(ctx context.Context, studentID, name string) (*model.Student, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < 2 {
		return nil, errors.ValidationError{Field: "Student Name", Value: name, Message: "student name must be at least 2 characters"}
	}
	student, err := s.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStudentName(ctx, student.StudentID, name); err != nil {
		return nil, err
	}
	student.Name = name
	s.log.Info().Str("student_id", student.StudentID).Msg("Student renamed")
	return student, nil
}

func (s *Service) checkInput(in model.StudentInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", e.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid email address", e.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is invalid", e.Field()))
		}
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidInput, strings.Join(msgs, ", "))
}

// Cleanup runs on a fresh context so a cancelled request still releases
// what it reserved.
func (s *Service) releaseSerial(key model.SchoolKey, serial string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.registry.ReleaseSerial(ctx, key, serial); err != nil {
		s.cleanupFailed(errors.CleanupFailure{Op: "release serial " + key.String() + "/" + serial, Err: err}, log)
	}
}

func (s *Service) deleteAccount(uid string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.accounts.DeleteAccount(ctx, uid); err != nil {
		s.cleanupFailed(errors.CleanupFailure{Op: "delete account " + uid, Err: err}, log)
	}
}

func (s *Service) cleanupFailed(err errors.CleanupFailure, log zerolog.Logger) {
	metrics.CleanupFailures.WithLabelValues(strings.Fields(err.Op)[0]).Inc()
	log.Warn().Err(err).Bool("cleanup", true).Msg("Cleanup failed")
}

func normalize(in model.StudentInput) model.StudentInput {
	in.Name = strings.TrimSpace(in.Name)
	in.StateCode = strings.ToUpper(strings.TrimSpace(in.StateCode))
	in.DistrictCode = studentid.PadDistrict(in.DistrictCode)
	in.SchoolCode = studentid.PadSchool(in.SchoolCode)
	in.Email = strings.TrimSpace(in.Email)
	return in
}
