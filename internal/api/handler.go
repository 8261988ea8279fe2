package api

import (
	"context"
	"net/http"

	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/excel"
	"mindleap-provisioning/internal/logger"
	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/storage"
	"mindleap-provisioning/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Provisioner is the student lifecycle the API drives.
type Provisioner interface {
	Provision(ctx context.Context, in model.StudentInput) model.Outcome
	GetStudent(ctx context.Context, studentID string) (*model.Student, error)
	DeleteStudent(ctx context.Context, studentID string) error
	RenameStudent(ctx context.Context, studentID, name string) (*model.Student, error)
}

type CodeRegistry interface {
	ResolveOrCreateDistrict(ctx context.Context, stateCode, name string) (model.District, error)
	ResolveOrCreateSchool(ctx context.Context, school model.School) (model.School, error)
	DistrictCapacity(ctx context.Context) (model.Capacity, error)
	SchoolCapacity(ctx context.Context, stateCode, districtCode string) (model.Capacity, error)
	SerialCapacity(ctx context.Context, key model.SchoolKey) (model.Capacity, error)
}

type JobQueue interface {
	EnqueueProvisionJob(ctx context.Context, job model.ProvisionJob) error
}

type ProgressSource interface {
	GetProgress(ctx context.Context, jobID string) (*model.Progress, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Provisioner Provisioner
	Registry    CodeRegistry
	Catalog     excel.CatalogSource
	Jobs        db.JobRepository
	Storage     storage.Storage
	Queue       JobQueue
	Progress    ProgressSource
	Checks      map[string]HealthCheck
}

type Handler struct {
	provisioner Provisioner
	registry    CodeRegistry
	catalog     excel.CatalogSource
	jobs        db.JobRepository
	storage     storage.Storage
	queue       JobQueue
	progress    ProgressSource
	checks      map[string]HealthCheck
	cfg         *config.Config
	newID       func() string
	log         zerolog.Logger
}

func NewHandler(deps Deps, cfg *config.Config) *Handler {
	return &Handler{
		provisioner: deps.Provisioner,
		registry:    deps.Registry,
		catalog:     deps.Catalog,
		jobs:        deps.Jobs,
		storage:     deps.Storage,
		queue:       deps.Queue,
		progress:    deps.Progress,
		checks:      deps.Checks,
		cfg:         cfg,
		newID:       uuid.NewString,
		log:         logger.Component("api"),
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	health := "healthy"
	if status != http.StatusOK {
		health = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":  health,
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
		"checks":  checks,
	})
}

func (h *Handler) DownloadTemplate(c *gin.Context) {
	data, err := excel.StudentTemplate()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="students_template.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

// respondError maps domain errors onto HTTP statuses. Anything unexpected
// is logged and hidden behind a generic 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	var verr errors.ValidationError
	var remote errors.RemoteOperationError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, errors.ErrInvalidInput),
		errors.Is(err, errors.ErrInvalidFileFormat),
		errors.Is(err, errors.ErrMissingColumn):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errors.ErrPermissionDenied), errors.Is(err, errors.ErrOutOfScope):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, errors.ErrAlreadyExists),
		errors.Is(err, errors.ErrUploadHasErrors),
		errors.Is(err, errors.ErrStatusConflict),
		errors.Is(err, errors.ErrRangeExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &remote):
		h.log.Error().Err(err).Str("op", remote.Op).Msg("Remote operation failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream service failed"})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// checkState rejects operators acting outside their states.
func checkState(c *gin.Context, stateCode string) error {
	claims := operator(c)
	if claims == nil || !claims.CanAccessState(stateCode) {
		return errors.ErrOutOfScope
	}
	return nil
}
