package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mindleap-provisioning/internal/auth"
	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/provision"
	"mindleap-provisioning/internal/queue"
	"mindleap-provisioning/internal/registry"
	"mindleap-provisioning/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allPermissions = []string{
	auth.PermissionStudentsWrite,
	auth.PermissionStudentsDelete,
	auth.PermissionRegistryWrite,
	auth.PermissionUploads,
}

type testServer struct {
	router *gin.Engine
	tokens *auth.TokenManager
	jobs   *db.MemoryJobRepository
	queue  *queue.MemoryQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	repo := db.NewMemoryRepository()
	require.NoError(t, repo.SaveState(ctx, model.State{
		Code:      "ML",
		Name:      "Meghalaya",
		Districts: []model.District{{Code: "03", Name: "West Garo Hills"}},
	}))
	require.NoError(t, repo.SaveState(ctx, model.State{
		Code:      "AS",
		Name:      "Assam",
		Districts: []model.District{{Code: "02", Name: "Kamrup"}},
	}))
	repo.SaveSchool(model.School{Code: "007", Name: "Tura Govt School", StateCode: "ML", DistrictCode: "03", Status: model.SchoolStatusActive})

	cfg := &config.Config{
		App:    config.AppConfig{Name: "mindleap-provisioning", Version: "test"},
		Server: config.ServerConfig{MaxUploadBytes: 1 << 20},
	}
	reg := registry.New(repo)
	svc := provision.NewService(reg, repo, auth.NewMemoryProvider(0), provision.Options{EmailDomain: "mindleap.edu"})

	s := &testServer{
		tokens: auth.NewTokenManager("test-secret", "mindleap-admin", time.Hour),
		jobs:   db.NewMemoryJobRepository(),
		queue:  queue.NewMemoryQueue(8),
	}
	handler := NewHandler(Deps{
		Provisioner: svc,
		Registry:    reg,
		Catalog:     repo,
		Jobs:        s.jobs,
		Storage:     storage.NewMemoryStorage(),
		Queue:       s.queue,
		Progress:    queue.NewMemoryProgressStore(),
		Checks: map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
		},
	}, cfg)

	s.router = gin.New()
	SetupRoutes(s.router, handler, s.tokens)
	return s
}

func (s *testServer) token(t *testing.T, permissions []string, states ...string) string {
	t.Helper()
	tok, err := s.tokens.Issue("op-1", "admin", permissions, states)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, token, fileName, content, scope string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if scope != "" {
		require.NoError(t, w.WriteField("scope", scope))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	other := auth.NewTokenManager("other-secret", "mindleap-admin", time.Hour)
	forged, err := other.Issue("op-1", "superadmin", nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "wrong signature", header: "Bearer " + forged, want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + s.token(t, nil), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/states", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCreateStudent(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{"name": "Asha", "state_code": "ml", "district_code": "3", "school_code": "7"}

	rec := s.do(t, http.MethodPost, "/api/v1/students", s.token(t, nil), body)
	assert.Equal(t, http.StatusForbidden, rec.Code, "students:write is required")

	rec = s.do(t, http.MethodPost, "/api/v1/students", s.token(t, allPermissions, "AS"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code, "operator limited to another state")

	rec = s.do(t, http.MethodPost, "/api/v1/students", s.token(t, allPermissions), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Outcome model.Outcome `json:"outcome"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "ML2503007001", resp.Outcome.StudentID)
	assert.Equal(t, "ml2503007001@mindleap.edu", resp.Outcome.Email)
	assert.NotEmpty(t, resp.Outcome.Password)

	body["name"] = "A"
	rec = s.do(t, http.MethodPost, "/api/v1/students", s.token(t, allPermissions), body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStudentLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, allPermissions)
	rec := s.do(t, http.MethodPost, "/api/v1/students", admin,
		map[string]string{"name": "Asha", "state_code": "ML", "district_code": "03", "school_code": "007"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/students/ML2503007001", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var student model.Student
	decode(t, rec, &student)
	assert.Equal(t, "Asha", student.Name)

	rec = s.do(t, http.MethodGet, "/api/v1/students/ML2503007001", s.token(t, allPermissions, "AS"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "students of other states are hidden")

	rec = s.do(t, http.MethodPatch, "/api/v1/students/ML2503007001", admin, map[string]string{"name": "Asha Marak"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &student)
	assert.Equal(t, "Asha Marak", student.Name)

	rec = s.do(t, http.MethodPatch, "/api/v1/students/ML2503007001", admin, map[string]string{"name": "A"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	writer := s.token(t, []string{auth.PermissionStudentsWrite})
	rec = s.do(t, http.MethodDelete, "/api/v1/students/ML2503007001", writer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "students:delete is required")

	rec = s.do(t, http.MethodDelete, "/api/v1/students/ML2503007001", admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/students/ML2503007001", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegistryEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, allPermissions)

	rec := s.do(t, http.MethodPost, "/api/v1/districts", admin, map[string]string{"state_code": "ML", "name": "Ri Bhoi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var district model.District
	decode(t, rec, &district)
	assert.Equal(t, "01", district.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/schools", admin, map[string]string{"state_code": "ML", "district_code": "1", "name": "Nongpoh High"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var school model.School
	decode(t, rec, &school)
	assert.Equal(t, "001", school.Code)
	assert.Equal(t, "Ri Bhoi", school.DistrictName)

	rec = s.do(t, http.MethodPost, "/api/v1/schools", admin, map[string]string{"state_code": "ML", "district_code": "42", "name": "Nowhere"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/districts", s.token(t, nil), map[string]string{"state_code": "ML", "name": "X"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/registry/capacity?state=ML&district=03", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var capacity model.Capacity
	decode(t, rec, &capacity)
	assert.Equal(t, "school", capacity.Kind)
	assert.Equal(t, 1, capacity.Used)

	rec = s.do(t, http.MethodGet, "/api/v1/registry/capacity?school=007", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/registry/states", s.token(t, nil, "AS"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var states struct {
		States []model.State `json:"states"`
	}
	decode(t, rec, &states)
	require.Len(t, states.States, 1)
	assert.Equal(t, "AS", states.States[0].Code)
}

const uploadCSV = `State Code,District Code,School Code,Student Name,WhatsApp Number
ML,03,007,Asha,9876543210
ML,03,007,Bina,12345
`

func TestUploadFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, allPermissions)

	rec := s.upload(t, admin, "students.csv", uploadCSV, `{"states":["ml"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Job    model.UploadJob  `json:"job"`
		Errors []model.RowError `json:"errors"`
	}
	decode(t, rec, &created)
	assert.Equal(t, model.JobStatusInvalid, created.Job.Status)
	assert.Equal(t, []string{"ML"}, created.Job.Scope.States)
	assert.Equal(t, 2, created.Job.TotalRows)
	assert.Equal(t, 1, created.Job.ValidRows)
	require.Len(t, created.Errors, 1)
	assert.Equal(t, "WhatsApp Number", created.Errors[0].Field)

	path := "/api/v1/uploads/" + created.Job.ID
	rec = s.do(t, http.MethodPost, path+"/provision", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "invalid rows block the run")

	rec = s.do(t, http.MethodPost, path+"/provision", admin, map[string]bool{"skip_invalid": true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, path+"/provision", admin, map[string]bool{"skip_invalid": true})
	assert.Equal(t, http.StatusConflict, rec.Code, "a queued job is not queued twice")

	rec = s.do(t, http.MethodGet, path, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status model.JobStatusResponse
	decode(t, rec, &status)
	assert.Equal(t, model.JobStatusQueued, status.Job.Status)
	assert.True(t, status.Job.SkipInvalid)

	rec = s.do(t, http.MethodGet, path+"/report", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, path+"/errors", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))

	rec = s.do(t, http.MethodGet, "/api/v1/uploads?status=queued", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs []model.UploadJob `json:"jobs"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Jobs, 1)

	rec = s.do(t, http.MethodGet, path, s.token(t, allPermissions, "AS"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "uploads of other states are hidden")
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, allPermissions)

	tests := []struct {
		name     string
		token    string
		fileName string
		content  string
		scope    string
		want     int
	}{
		{name: "unsupported extension", token: admin, fileName: "students.pdf", content: "x", want: http.StatusBadRequest},
		{name: "missing columns", token: admin, fileName: "students.csv", content: "Name\nAsha\n", want: http.StatusBadRequest},
		{name: "bad scope", token: admin, fileName: "students.csv", content: uploadCSV, scope: "{", want: http.StatusBadRequest},
		{name: "scope outside operator states", token: s.token(t, allPermissions, "AS"), fileName: "students.csv", content: uploadCSV, scope: `{"states":["ML"]}`, want: http.StatusForbidden},
		{name: "no upload permission", token: s.token(t, nil), fileName: "students.csv", content: uploadCSV, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.upload(t, tt.token, tt.fileName, tt.content, tt.scope)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestDownloadTemplate(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/templates/students", s.token(t, nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}
