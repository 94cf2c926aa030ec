package database

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// UserStore provides access to registered accounts
type UserStore interface {
	// CreateUser inserts the user and sets its ID and CreatedAt.
	// Returns ErrDuplicate when the username or email is already taken.
	CreateUser(ctx context.Context, user *User) error
	// GetUser retrieves a user by ID, returns nil if not found
	GetUser(ctx context.Context, id int64) (*User, error)
	// GetUserByUsername retrieves a user by username, returns nil if not found
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// CountUsers returns the number of registered accounts
	CountUsers(ctx context.Context) (int, error)
}

// PersonReader provides read-only access to missing-person records
type PersonReader interface {
	// GetPerson retrieves a person by ID, returns nil if not found
	GetPerson(ctx context.Context, id int64) (*MissingPerson, error)
	// ListPersons returns persons ordered by newest first
	ListPersons(ctx context.Context, opts ListOptions) ([]MissingPerson, error)
	// CountPersons returns the number of stored persons
	CountPersons(ctx context.Context) (int, error)
	// ListSearchable returns every person that takes part in face searches
	ListSearchable(ctx context.Context) ([]MissingPerson, error)
	// FindNearest returns the searchable person closest to the encoding together
	// with the distance, or nil when nobody lies within maxDistance.
	FindNearest(ctx context.Context, encoding []float32, metric Metric, maxDistance float64) (*MissingPerson, float64, error)
}

// PersonWriter provides write access to missing-person records
type PersonWriter interface {
	PersonReader

	// CreatePerson inserts the person and sets its ID and timestamps
	CreatePerson(ctx context.Context, person *MissingPerson) error
	// UpdateEncoding replaces the stored face encoding of a person
	UpdateEncoding(ctx context.Context, id int64, encoding []float32, encoder string) error
	// SetFound marks a person as found or missing again
	SetFound(ctx context.Context, id int64, found bool) error
	// DeletePerson removes a person and its match events
	DeletePerson(ctx context.Context, id int64) error
}

// MatchStore records search matches
type MatchStore interface {
	// RecordMatch inserts the event and sets its ID and CreatedAt
	RecordMatch(ctx context.Context, event *MatchEvent) error
	// ListMatches returns the match events of a person, newest first
	ListMatches(ctx context.Context, personID int64) ([]MatchEvent, error)
}

// SessionStore persists web sessions so they survive restarts
type SessionStore interface {
	Save(ctx context.Context, session *StoredSession) error
	// Get returns nil if the session does not exist or has expired
	Get(ctx context.Context, sessionID string) (*StoredSession, error)
	Delete(ctx context.Context, sessionID string) error
	// DeleteExpired removes expired sessions and returns how many were removed
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
