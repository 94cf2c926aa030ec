package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuthHandler_Register_Success(t *testing.T) {
	env := newTestEnv(t)
	handler := NewAuthHandler(env.accounts, env.sessions, env.metrics, env.logger)

	body := bytes.NewBufferString(`{"username": "alice", "password": "secret1", "email": "alice@example.com", "contact_info": "555-0100"}`)
	req := httptest.NewRequest("POST", "/api/v1/auth/register", body)
	recorder := httptest.NewRecorder()

	handler.Register(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)

	var response UserResponse
	parseJSONResponse(t, recorder, &response)
	if response.ID == 0 {
		t.Error("expected id to be set")
	}
	if response.Username != "alice" {
		t.Errorf("expected username alice, got %s", response.Username)
	}
	if got := testutil.ToFloat64(env.metrics.Registrations.WithLabelValues(metrics.OutcomeSuccess)); got != 1 {
		t.Errorf("expected 1 successful registration, got %v", got)
	}
}

func TestAuthHandler_Register_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	handler := NewAuthHandler(env.accounts, env.sessions, env.metrics, env.logger)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "invalid json",
			body:           `{`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  errInvalidRequestBody,
		},
		{
			name:           "username taken",
			body:           `{"username": "alice", "password": "secret1", "email": "other@example.com"}`,
			expectedStatus: http.StatusConflict,
			expectedError:  msgUsernameTaken,
		},
		{
			name:           "email taken",
			body:           `{"username": "bob", "password": "secret1", "email": "alice@example.com"}`,
			expectedStatus: http.StatusConflict,
			expectedError:  msgEmailTaken,
		},
		{
			name:           "short password",
			body:           `{"username": "bob", "password": "123", "email": "bob@example.com"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Password must be at least 6 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/auth/register", bytes.NewBufferString(tt.body))
			recorder := httptest.NewRecorder()

			handler.Register(recorder, req)

			assertStatusCode(t, recorder, tt.expectedStatus)
			assertJSONError(t, recorder, tt.expectedError)
		})
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	handler := NewAuthHandler(env.accounts, env.sessions, env.metrics, env.logger)

	body := bytes.NewBufferString(`{"username": "alice", "password": "secret-password"}`)
	req := httptest.NewRequest("POST", "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	handler.Login(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var response LoginResponse
	parseJSONResponse(t, recorder, &response)

	if !response.Success {
		t.Error("expected success to be true")
	}
	if response.SessionID == "" {
		t.Error("expected session_id to be set")
	}
	if response.User == nil || response.User.Username != "alice" {
		t.Errorf("expected user alice, got %+v", response.User)
	}
	if len(recorder.Result().Cookies()) == 0 {
		t.Error("expected session cookie to be set")
	}
	if env.sessions.GetSession(req.Context(), response.SessionID) == nil {
		t.Error("session should be retrievable after login")
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	handler := NewAuthHandler(env.accounts, env.sessions, env.metrics, env.logger)

	for _, body := range []string{
		`{"username": "alice", "password": "wrong-password"}`,
		`{"username": "nobody", "password": "secret-password"}`,
	} {
		req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewBufferString(body))
		recorder := httptest.NewRecorder()

		handler.Login(recorder, req)

		assertStatusCode(t, recorder, http.StatusUnauthorized)
		var response LoginResponse
		parseJSONResponse(t, recorder, &response)
		if response.Success {
			t.Error("expected success to be false")
		}
		if response.Error != msgInvalidCredentials {
			t.Errorf("expected error %q, got %q", msgInvalidCredentials, response.Error)
		}
	}

	if got := testutil.ToFloat64(env.metrics.Logins.WithLabelValues(metrics.OutcomeFailure)); got != 2 {
		t.Errorf("expected 2 failed logins, got %v", got)
	}
}

func TestAuthHandler_Login_MissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing username", `{"password": "secret"}`},
		{"missing password", `{"username": "alice"}`},
		{"empty body", `{}`},
	}

	env := newTestEnv(t)
	handler := NewAuthHandler(env.accounts, env.sessions, env.metrics, env.logger)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewBufferString(tt.body))
			recorder := httptest.NewRecorder()

			handler.Login(recorder, req)

			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertJSONError(t, recorder, "username and password are required")
		})
	}
}

func TestAuthHandler_LogoutAndStatus(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "alice")
	handler := NewAuthHandler(env.accounts, env.sessions, env.metrics, env.logger)

	req := httptest.NewRequest("GET", "/api/v1/auth/status", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)
	recorder := httptest.NewRecorder()
	handler.Status(recorder, req)

	var status StatusResponse
	parseJSONResponse(t, recorder, &status)
	if !status.Authenticated || status.Username != "alice" {
		t.Errorf("expected authenticated alice, got %+v", status)
	}

	req = httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)
	recorder = httptest.NewRecorder()
	handler.Logout(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	req = httptest.NewRequest("GET", "/api/v1/auth/status", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)
	recorder = httptest.NewRecorder()
	handler.Status(recorder, req)

	status = StatusResponse{}
	parseJSONResponse(t, recorder, &status)
	if status.Authenticated {
		t.Error("expected session to be gone after logout")
	}
}
