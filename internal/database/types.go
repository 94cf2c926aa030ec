package database

import (
	"time"
)

// User is a registered account that can report and search for persons.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	ContactInfo  string
	CreatedAt    time.Time
}

// MissingPerson is a reported missing person together with the face encoding
// computed from the reporter's photo.
type MissingPerson struct {
	ID            int64
	Name          string
	Age           int
	Gender        string
	Description   string
	GuardianEmail string
	ImagePath     string    // relative to the upload directory
	Encoding      []float32 // face encoding of the stored photo
	Encoder       string    // name of the encoder that produced Encoding
	ReportedBy    int64     // 0 when the reporting account was removed
	Found         bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Searchable reports whether the person takes part in face searches.
func (p *MissingPerson) Searchable() bool {
	return !p.Found && len(p.Encoding) > 0
}

// MatchEvent records a search photo that matched a missing person.
type MatchEvent struct {
	ID             int64
	PersonID       int64
	SearchedBy     int64
	Distance       float64
	QueryImagePath string
	Notified       bool
	NotifyError    string
	CreatedAt      time.Time
}

// StoredSession is the persisted form of a web session.
type StoredSession struct {
	ID        string
	UserID    int64
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ListOptions filters and pages person listings.
type ListOptions struct {
	Name         string // substring match on the normalized name, empty matches all
	ReportedBy   int64  // 0 matches every reporter
	IncludeFound bool
	Limit        int
	Offset       int
}
