package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
)

const (
	sessionCookieName = "missing_persons_session"
	sessionDuration   = constants.SessionDuration
)

// Session represents a logged-in user
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionOption configures a SessionManager
type SessionOption func(*SessionManager)

// WithSecureCookies forces the Secure cookie flag even for plain HTTP requests.
func WithSecureCookies(secure bool) SessionOption {
	return func(sm *SessionManager) {
		sm.secure = secure
	}
}

// WithSessionLogger sets the logger used by the background cleanup.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(sm *SessionManager) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// SessionManager handles session creation and validation. Sessions are cached
// in memory and persisted to the store when one is configured.
type SessionManager struct {
	secret   []byte
	store    database.SessionStore
	sessions map[string]*Session
	mu       sync.RWMutex
	secure   bool
	logger   *slog.Logger
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionManager creates a new session manager. A nil store keeps sessions
// in memory only, so they are lost on restart.
func NewSessionManager(secret string, store database.SessionStore, opts ...SessionOption) *SessionManager {
	// Use a default secret if none provided (for development)
	if secret == "" {
		secret = "missing-persons-dev-secret-change-in-production"
	}
	sm := &SessionManager{
		secret:   []byte(secret),
		store:    store,
		sessions: make(map[string]*Session),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// CreateSession creates a new session for a user
func (sm *SessionManager) CreateSession(ctx context.Context, userID int64, username string) (*Session, error) {
	// Generate session ID
	idBytes := make([]byte, 32)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, err
	}
	sessionID := base64.RawURLEncoding.EncodeToString(idBytes)

	now := sm.now()
	session := &Session{
		ID:        sessionID,
		UserID:    userID,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionDuration),
	}

	if sm.store != nil {
		err := sm.store.Save(ctx, &database.StoredSession{
			ID:        session.ID,
			UserID:    session.UserID,
			Username:  session.Username,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
		})
		if err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by ID, falling back to the store on a cache miss
func (sm *SessionManager) GetSession(ctx context.Context, sessionID string) *Session {
	sm.mu.RLock()
	session, ok := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if ok {
		if sm.now().After(session.ExpiresAt) {
			sm.forget(sessionID)
			return nil
		}
		return session
	}

	if sm.store == nil {
		return nil
	}
	stored, err := sm.store.Get(ctx, sessionID)
	if err != nil {
		sm.logger.Warn("failed to load session", "error", err)
		return nil
	}
	if stored == nil || sm.now().After(stored.ExpiresAt) {
		return nil
	}

	session = &Session{
		ID:        stored.ID,
		UserID:    stored.UserID,
		Username:  stored.Username,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()
	return session
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	sm.forget(sessionID)
	if sm.store == nil {
		return nil
	}
	return sm.store.Delete(ctx, sessionID)
}

func (sm *SessionManager) forget(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()
}

// StartCleanup periodically drops expired sessions from the cache and the store
// until Stop is called.
func (sm *SessionManager) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = constants.SessionCleanupInterval
	}
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sm.stop:
				return
			case <-ticker.C:
				sm.Cleanup(context.Background())
			}
		}
	}()
}

// Cleanup removes expired sessions and returns how many cached ones were dropped.
func (sm *SessionManager) Cleanup(ctx context.Context) int {
	now := sm.now()

	sm.mu.Lock()
	removed := 0
	for id, s := range sm.sessions {
		if now.After(s.ExpiresAt) {
			delete(sm.sessions, id)
			removed++
		}
	}
	sm.mu.Unlock()

	if sm.store != nil {
		n, err := sm.store.DeleteExpired(ctx, now)
		if err != nil {
			sm.logger.Warn("failed to delete expired sessions", "error", err)
		} else if n > 0 {
			sm.logger.Debug("deleted expired sessions", "count", n)
		}
	}
	return removed
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stop)
	})
	sm.wg.Wait()
}

// SetSessionCookie sets the session cookie on the response
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, r *http.Request, session *Session) {
	// Sign the session ID
	signature := sm.signData(session.ID)
	cookieValue := session.ID + "." + signature

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    cookieValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.isSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})
}

func (sm *SessionManager) isSecure(r *http.Request) bool {
	if sm.secure {
		return true
	}
	if r == nil {
		return false
	}
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// ClearSessionCookie removes the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts the session from a request
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	ctx := r.Context()

	// Try cookie first
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		sessionID, signature, ok := strings.Cut(cookie.Value, ".")
		if ok && sm.verifySignature(sessionID, signature) {
			if session := sm.GetSession(ctx, sessionID); session != nil {
				return session
			}
		}
	}

	// Try Authorization header
	authHeader := r.Header.Get("Authorization")
	if sessionID, ok := strings.CutPrefix(authHeader, "Bearer "); ok && sessionID != "" {
		if session := sm.GetSession(ctx, sessionID); session != nil {
			return session
		}
	}

	return nil
}

// signData creates an HMAC signature for data
func (sm *SessionManager) signData(data string) string {
	h := hmac.New(sha256.New, sm.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// verifySignature verifies an HMAC signature
func (sm *SessionManager) verifySignature(data, signature string) bool {
	expected := sm.signData(data)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SessionData is a helper struct for JSON responses
type SessionData struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	ExpiresAt string `json:"expires_at"`
}

// ToJSON returns the session data for JSON response
func (s *Session) ToJSON() SessionData {
	return SessionData{
		SessionID: s.ID,
		UserID:    s.UserID,
		Username:  s.Username,
		ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
	}
}

// MarshalJSON implements json.Marshaler
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToJSON())
}
