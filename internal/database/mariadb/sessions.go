package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/missing-persons/internal/database"
)

// SessionRepository provides MariaDB-backed session storage
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new MariaDB session repository
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Save stores a session in the database
func (r *SessionRepository) Save(ctx context.Context, s *database.StoredSession) error {
	_, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, username, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			user_id = VALUES(user_id),
			username = VALUES(username),
			created_at = VALUES(created_at),
			expires_at = VALUES(expires_at)`,
		s.ID, s.UserID, s.Username, s.CreatedAt.UTC(), s.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID, returns nil if not found or expired
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*database.StoredSession, error) {
	var s database.StoredSession
	err := r.pool.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, created_at, expires_at
		FROM sessions
		WHERE id = ? AND expires_at > ?`, sessionID, now(),
	).Scan(&s.ID, &s.UserID, &s.Username, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// Delete removes a session from the database
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.pool.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes all sessions expired at now and returns the count deleted
func (r *SessionRepository) DeleteExpired(ctx context.Context, at time.Time) (int64, error) {
	result, err := r.pool.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", at.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
