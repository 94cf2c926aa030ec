package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kozaktomas/missing-persons/internal/accounts"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/web/middleware"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	accounts       *accounts.Service
	sessionManager *middleware.SessionManager
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(acc *accounts.Service, sm *middleware.SessionManager, m *metrics.Metrics, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:       acc,
		sessionManager: sm,
		metrics:        m,
		logger:         logger,
	}
}

// registerRequest represents a registration request
type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	ContactInfo string `json:"contact_info"`
}

// UserResponse is the public view of an account
type UserResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	ContactInfo string `json:"contact_info,omitempty"`
}

// Register creates a new account
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	user, err := h.accounts.Register(r.Context(), accounts.RegisterInput{
		Username:    req.Username,
		Password:    req.Password,
		Email:       req.Email,
		ContactInfo: req.ContactInfo,
	})
	if err != nil {
		h.metrics.Registrations.WithLabelValues(metrics.OutcomeFailure).Inc()
		respondServiceError(w, r, h.logger, err)
		return
	}
	h.metrics.Registrations.WithLabelValues(metrics.OutcomeSuccess).Inc()
	h.logger.InfoContext(r.Context(), "user registered", "user_id", user.ID, "username", sanitizeForLog(user.Username))

	respondJSON(w, http.StatusCreated, UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		ContactInfo: user.ContactInfo,
	})
}

// loginRequest represents a login request
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Success   bool          `json:"success"`
	SessionID string        `json:"session_id,omitempty"`
	ExpiresAt string        `json:"expires_at,omitempty"`
	User      *UserResponse `json:"user,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	// Require both username and password
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.metrics.Logins.WithLabelValues(metrics.OutcomeFailure).Inc()
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			respondJSON(w, http.StatusUnauthorized, LoginResponse{
				Success: false,
				Error:   msgInvalidCredentials,
			})
			return
		}
		respondServiceError(w, r, h.logger, err)
		return
	}

	session, err := h.sessionManager.CreateSession(r.Context(), user.ID, user.Username)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create session", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.metrics.Logins.WithLabelValues(metrics.OutcomeSuccess).Inc()

	h.sessionManager.SetSessionCookie(w, r, session)

	respondJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
		User:      &UserResponse{ID: user.ID, Username: user.Username},
	})
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		if err := h.sessionManager.DeleteSession(r.Context(), session.ID); err != nil {
			h.logger.WarnContext(r.Context(), "failed to delete session", "error", err)
		}
	}

	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// StatusResponse represents the auth status response
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        int64  `json:"user_id,omitempty"`
	Username      string `json:"username,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

// Status checks if the user is authenticated by validating the session.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session == nil {
		respondJSON(w, http.StatusOK, StatusResponse{Authenticated: false})
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		UserID:        session.UserID,
		Username:      session.Username,
		ExpiresAt:     session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
