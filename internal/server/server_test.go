package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"taskapi/internal/analytics"
	"taskapi/internal/apperr"
	"taskapi/internal/auth"
	"taskapi/internal/models"
	"taskapi/internal/storage/sqlite"
	"taskapi/internal/tasks"
)

const adminEmail = "admin@example.com"

type errorBody struct {
	Message string              `json:"message"`
	Errors  []apperr.FieldError `json:"errors"`
}

type listBody struct {
	Tasks      []models.Task `json:"tasks"`
	Pagination struct {
		Total int `json:"total"`
		Page  int `json:"page"`
		Pages int `json:"pages"`
	} `json:"pagination"`
}

// api drives the router in-process.
type api struct {
	*Server
}

func newTestServer(t *testing.T) *api {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens, err := auth.NewTokenManager(auth.TokenConfig{SecretKey: "server-test", TTL: auth.DefaultTokenConfig().TTL, Issuer: "taskapi"})
	require.NoError(t, err)
	return &api{New(Services{
		Auth:      auth.NewService(store, auth.NewPasswordHasher(bcrypt.MinCost), tokens, adminEmail, logger),
		Tasks:     tasks.NewService(store, logger),
		Analytics: analytics.NewAggregator(store, logger),
		Health:    store,
	}, logger, Options{CORSOrigins: []string{"http://localhost:3000"}})}
}

func (s *api) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *api) register(t *testing.T, email string) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/auth/register", "", object{"email": email, "password": "password123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[auth.Session](t, rec).Token
}

func (s *api) createTask(t *testing.T, token string, body object) models.Task {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/tasks", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Task](t, rec)
}

type object map[string]any

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{name: "missing header", header: "", message: "Not authorized: token missing"},
		{name: "wrong scheme", header: "Basic abc", message: "Not authorized: token missing"},
		{name: "bad token", header: "Bearer nonsense", message: "Not authorized: token invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.Engine().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.message, decode[errorBody](t, rec).Message)
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	token := s.register(t, "new@example.com")
	require.NotEmpty(t, token)

	rec := s.do(t, http.MethodPost, "/api/auth/register", "", object{"email": "new@example.com", "password": "password123"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/register", "", object{"email": "not-an-email", "password": "short"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Len(t, body.Errors, 2)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", object{"email": "new@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", object{"email": "new@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode[auth.Session](t, rec)

	rec = s.do(t, http.MethodGet, "/api/auth/me", session.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[struct {
		User map[string]any `json:"user"`
	}](t, rec)
	assert.Equal(t, "new@example.com", me.User["email"])
	assert.NotContains(t, me.User, "passwordHash")
}

func TestAdminCheck(t *testing.T) {
	s := newTestServer(t)

	user := s.register(t, "plain@example.com")
	rec := s.do(t, http.MethodGet, "/api/auth/admin-check", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := s.register(t, adminEmail)
	rec = s.do(t, http.MethodGet, "/api/auth/admin-check", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTask_Validation(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "validate@example.com")

	rec := s.do(t, http.MethodPost, "/api/tasks", token, object{"title": "ab", "priority": "Urgent", "dueDate": "tomorrow"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[errorBody](t, rec)
	fields := map[string]string{}
	for _, fe := range body.Errors {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, map[string]string{
		"title":    "Title must be between 3 and 100 characters",
		"priority": "Priority must be High, Medium, or Low",
		"dueDate":  "Invalid date format",
	}, fields)

	rec = s.do(t, http.MethodPost, "/api/tasks", token, object{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode[errorBody](t, rec)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "Title is required", body.Errors[0].Message)
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "life@example.com")

	created := s.createTask(t, token, object{"title": "Write tests", "description": "for the api", "dueDate": "2099-01-15", "priority": "High"})
	assert.Equal(t, models.PriorityHigh, created.Priority)
	assert.Equal(t, models.StatusPending, created.Status)
	require.NotNil(t, created.DueDate)

	s.createTask(t, token, object{"title": "Second task"})

	rec := s.do(t, http.MethodGet, "/api/tasks/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Write tests", decode[models.Task](t, rec).Title)

	rec = s.do(t, http.MethodGet, "/api/tasks?priority=High&search=WRITE", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listBody](t, rec)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, created.ID, list.Tasks[0].ID)
	assert.Equal(t, 1, list.Pagination.Total)
	assert.Equal(t, 1, list.Pagination.Page)
	assert.Equal(t, 1, list.Pagination.Pages)

	rec = s.do(t, http.MethodGet, "/api/tasks?page=2&limit=1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[listBody](t, rec)
	assert.Len(t, list.Tasks, 1)
	assert.Equal(t, 2, list.Pagination.Total)
	assert.Equal(t, 2, list.Pagination.Pages)

	rec = s.do(t, http.MethodPut, "/api/tasks/"+created.ID, token, object{"status": "Completed", "description": ""})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[models.Task](t, rec)
	assert.Equal(t, models.StatusCompleted, updated.Status)
	assert.Equal(t, "", updated.Description)
	assert.Equal(t, "Write tests", updated.Title)

	rec = s.do(t, http.MethodGet, "/api/tasks/analytics", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[analytics.Report](t, rec)
	assert.Equal(t, 1, report.StatusDistribution[models.StatusCompleted])
	assert.Equal(t, 1, report.StatusDistribution[models.StatusPending])
	assert.Equal(t, 1, report.PriorityDistribution[models.PriorityHigh])
	assert.Equal(t, 1, report.PriorityDistribution[models.PriorityMedium])
	assert.Equal(t, 0, report.PriorityDistribution[models.PriorityLow])

	rec = s.do(t, http.MethodDelete, "/api/tasks/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Task removed"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/tasks/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskIsolationBetweenUsers(t *testing.T) {
	s := newTestServer(t)
	owner := s.register(t, "owner@example.com")
	intruder := s.register(t, "intruder@example.com")

	task := s.createTask(t, owner, object{"title": "Owner only"})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := s.do(t, method, "/api/tasks/"+task.ID, intruder, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, method)
	}
	rec := s.do(t, http.MethodPut, "/api/tasks/"+task.ID, intruder, object{"title": "Taken over"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/tasks", intruder, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listBody](t, rec)
	assert.Empty(t, list.Tasks)
	assert.Equal(t, 0, list.Pagination.Total)
	assert.Equal(t, 0, list.Pagination.Pages)
}

func TestTaskRoutes_BadInput(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "bad@example.com")

	rec := s.do(t, http.MethodGet, "/api/tasks/12345", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "id", body.Errors[0].Field)

	rec = s.do(t, http.MethodGet, "/api/tasks?status=Done", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/tasks?page=abc&limit=-3&sortBy=bogus", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listBody](t, rec)
	assert.Equal(t, 1, list.Pagination.Page)

	task := s.createTask(t, token, object{"title": "Valid task"})
	rec = s.do(t, http.MethodPut, "/api/tasks/"+task.ID, token, object{"title": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Engine().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
