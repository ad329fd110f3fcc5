package fakeapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/odooctl/internal/task"
)

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, Prefix+path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler) tokenResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"email": "admin@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr tokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tr))
	return tr
}

func TestSetupFlow(t *testing.T) {
	s := New()
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/auth/setup", "", nil)
	assert.JSONEq(t, `{"setup_required": true}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/auth/setup", "", map[string]string{"email": "admin@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/auth/setup", "", map[string]string{"email": "other@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/auth/register", "", map[string]string{"email": "admin@example.com", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Email already registered")
}

func TestLogin_Validation(t *testing.T) {
	h := New().Handler()
	rec := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"email": "nope", "password": ""})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Detail string       `json:"detail"`
		Errors []fieldError `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Validation error", body.Detail)
	assert.Len(t, body.Errors, 2)
}

func TestLogin_WrongPassword(t *testing.T) {
	h := New(WithUser("admin@example.com", "hunter22")).Handler()
	rec := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{"email": "admin@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid email or password")
}

func TestRefreshAndRevocation(t *testing.T) {
	s := New(WithUser("admin@example.com", "hunter22"))
	h := s.Handler()
	tr := login(t, h)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/users/me", tr.AccessToken, nil).Code)

	s.RevokeAccessTokens()
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/users/me", tr.AccessToken, nil).Code)

	// An access token is not a refresh token.
	rec := do(t, h, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tr.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tr.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var renewed tokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&renewed))
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/users/me", renewed.AccessToken, nil).Code)

	s.RevokeRefreshTokens()
	rec = do(t, h, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": renewed.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid or expired refresh token")
	assert.Equal(t, 3, s.Requests("POST /auth/refresh"))
}

func TestTriggerAndProgression(t *testing.T) {
	s := New(WithUser("admin@example.com", "hunter22"))
	h := s.Handler()
	tr := login(t, h)

	rec := do(t, h, http.MethodPost, "/instances/7/backup-now", tr.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trig task.Trigger
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&trig))
	assert.Equal(t, "Backup started", trig.Message)

	var seen []task.Status
	for range 4 {
		rec := do(t, h, http.MethodGet, "/tasks/"+trig.TaskID, tr.AccessToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got task.Task
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		seen = append(seen, got.Status)
		if got.Status.IsTerminal() {
			assert.NotNil(t, got.CompletedAt)
			assert.Equal(t, task.KindRunBackup, got.Type)
			assert.Equal(t, "instance #7", got.Target())
		}
	}
	assert.Equal(t, []task.Status{task.StatusPending, task.StatusRunning, task.StatusSuccess, task.StatusSuccess}, seen)
}

func TestTaskNotFound(t *testing.T) {
	s := New(WithUser("admin@example.com", "hunter22"))
	h := s.Handler()
	tr := login(t, h)

	rec := do(t, h, http.MethodGet, "/tasks/missing", tr.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail": "Task not found"}`, rec.Body.String())
}

func TestFailNext(t *testing.T) {
	s := New(WithUser("admin@example.com", "hunter22"))
	h := s.Handler()
	tr := login(t, h)
	id := s.CreateTask(task.KindTestConnection, "server", 1)

	s.FailNext("GET /tasks/{taskID}", http.StatusServiceUnavailable, "Service temporarily unavailable", 2)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/tasks/"+id, tr.AccessToken, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/tasks/"+id, tr.AccessToken, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/tasks/"+id, tr.AccessToken, nil).Code)
	assert.Equal(t, 3, s.Requests("GET /tasks/{taskID}"))
}

func TestScripts(t *testing.T) {
	s := New(WithUser("admin@example.com", "hunter22"))
	h := s.Handler()
	tr := login(t, h)

	s.ScriptNext(Fails("SSH connection refused")...)
	rec := do(t, h, http.MethodPost, "/servers/3/test-connection", tr.AccessToken, nil)
	var trig task.Trigger
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&trig))

	var last task.Task
	for range 3 {
		rec := do(t, h, http.MethodGet, "/tasks/"+trig.TaskID, tr.AccessToken, nil)
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&last))
	}
	assert.Equal(t, task.StatusFailed, last.Status)
	assert.Equal(t, "SSH connection refused", last.ParsedResult().Error)
}

func TestConfigApplyRequiresUpdates(t *testing.T) {
	s := New(WithUser("admin@example.com", "hunter22"))
	h := s.Handler()
	tr := login(t, h)

	rec := do(t, h, http.MethodPost, "/instances/1/config/apply", tr.AccessToken, map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/instances/1/config/apply", tr.AccessToken, map[string]any{"updates": map[string]string{"workers": "4"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}
