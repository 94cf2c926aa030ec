// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/facematch"
)

// NewBackend returns a backend whose repositories all live in memory.
func NewBackend() *database.Backend {
	return &database.Backend{
		Name:     "memory",
		Users:    NewMockUserStore(),
		Persons:  NewMockPersonStore(),
		Matches:  NewMockMatchStore(),
		Sessions: NewMockSessionStore(),
	}
}

// MockUserStore is a mock implementation of database.UserStore
type MockUserStore struct {
	mu     sync.RWMutex
	users  map[int64]*database.User
	nextID int64

	// Error injection
	CreateError error
	GetError    error
	CountError  error
}

// NewMockUserStore creates a new mock user store
func NewMockUserStore() *MockUserStore {
	return &MockUserStore{users: make(map[int64]*database.User)}
}

// CreateUser stores a copy of the user and assigns its ID
func (m *MockUserStore) CreateUser(ctx context.Context, u *database.User) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return database.ErrDuplicate
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	stored := *u
	m.users[u.ID] = &stored
	return nil
}

// GetUser retrieves a user by ID
func (m *MockUserStore) GetUser(ctx context.Context, id int64) (*database.User, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// GetUserByUsername retrieves a user by username
func (m *MockUserStore) GetUserByUsername(ctx context.Context, username string) (*database.User, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// CountUsers returns the number of stored users
func (m *MockUserStore) CountUsers(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// MockPersonStore is a mock implementation of database.PersonWriter
type MockPersonStore struct {
	mu      sync.RWMutex
	persons map[int64]*database.MissingPerson
	nextID  int64

	// Error injection
	CreateError      error
	GetError         error
	ListError        error
	FindNearestError error
	UpdateError      error
	DeleteError      error

	// Call tracking
	FindNearestCalls int
}

// NewMockPersonStore creates a new mock person store
func NewMockPersonStore() *MockPersonStore {
	return &MockPersonStore{persons: make(map[int64]*database.MissingPerson)}
}

func clonePerson(p *database.MissingPerson) database.MissingPerson {
	cp := *p
	cp.Encoding = append([]float32(nil), p.Encoding...)
	return cp
}

// CreatePerson stores a copy of the person and assigns its ID
func (m *MockPersonStore) CreatePerson(ctx context.Context, p *database.MissingPerson) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	stored := clonePerson(p)
	m.persons[p.ID] = &stored
	return nil
}

// GetPerson retrieves a person by ID
func (m *MockPersonStore) GetPerson(ctx context.Context, id int64) (*database.MissingPerson, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, nil
	}
	cp := clonePerson(p)
	return &cp, nil
}

// sorted returns copies of all persons, newest first
func (m *MockPersonStore) sorted() []database.MissingPerson {
	out := make([]database.MissingPerson, 0, len(m.persons))
	for _, p := range m.persons {
		out = append(out, clonePerson(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// ListPersons filters persons the same way the SQL repositories do
func (m *MockPersonStore) ListPersons(ctx context.Context, opts database.ListOptions) ([]database.MissingPerson, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	name := strings.TrimSpace(facematch.NormalizePersonName(opts.Name))
	var out []database.MissingPerson
	for _, p := range m.sorted() {
		if !opts.IncludeFound && p.Found {
			continue
		}
		if opts.ReportedBy != 0 && p.ReportedBy != opts.ReportedBy {
			continue
		}
		if name != "" && !strings.Contains(facematch.NormalizePersonName(p.Name), name) {
			continue
		}
		out = append(out, p)
	}

	offset := max(opts.Offset, 0)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	limit := opts.Limit
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountPersons returns the number of stored persons
func (m *MockPersonStore) CountPersons(ctx context.Context) (int, error) {
	if m.ListError != nil {
		return 0, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.persons), nil
}

// ListSearchable returns every person that is still missing
func (m *MockPersonStore) ListSearchable(ctx context.Context) ([]database.MissingPerson, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.MissingPerson
	for _, p := range m.sorted() {
		if p.Searchable() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindNearest performs a linear scan
func (m *MockPersonStore) FindNearest(ctx context.Context, encoding []float32, metric database.Metric, maxDistance float64) (*database.MissingPerson, float64, error) {
	m.mu.Lock()
	m.FindNearestCalls++
	m.mu.Unlock()
	if m.FindNearestError != nil {
		return nil, 0, m.FindNearestError
	}
	persons, err := m.ListSearchable(ctx)
	if err != nil {
		return nil, 0, err
	}
	best, dist := database.NearestWithin(persons, encoding, metric, maxDistance)
	return best, dist, nil
}

// UpdateEncoding replaces the encoding of a person
func (m *MockPersonStore) UpdateEncoding(ctx context.Context, id int64, encoding []float32, encoder string) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.persons[id]; ok {
		p.Encoding = append([]float32(nil), encoding...)
		p.Encoder = encoder
		p.UpdatedAt = time.Now()
	}
	return nil
}

// SetFound updates the found flag of a person
func (m *MockPersonStore) SetFound(ctx context.Context, id int64, found bool) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.persons[id]; ok {
		p.Found = found
		p.UpdatedAt = time.Now()
	}
	return nil
}

// DeletePerson removes a person
func (m *MockPersonStore) DeletePerson(ctx context.Context, id int64) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.persons, id)
	return nil
}

// MockMatchStore is a mock implementation of database.MatchStore
type MockMatchStore struct {
	mu     sync.RWMutex
	events []database.MatchEvent
	nextID int64

	// Error injection
	RecordError error
	ListError   error
}

// NewMockMatchStore creates a new mock match store
func NewMockMatchStore() *MockMatchStore {
	return &MockMatchStore{}
}

// RecordMatch stores a match event
func (m *MockMatchStore) RecordMatch(ctx context.Context, e *database.MatchEvent) error {
	if m.RecordError != nil {
		return m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	e.CreatedAt = time.Now()
	m.events = append(m.events, *e)
	return nil
}

// ListMatches returns the events of a person, newest first
func (m *MockMatchStore) ListMatches(ctx context.Context, personID int64) ([]database.MatchEvent, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.MatchEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].PersonID == personID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

// Events returns every recorded event in insertion order
func (m *MockMatchStore) Events() []database.MatchEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.MatchEvent(nil), m.events...)
}

// MockSessionStore is a mock implementation of database.SessionStore
type MockSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]database.StoredSession

	// Error injection
	SaveError error
	GetError  error
}

// NewMockSessionStore creates a new mock session store
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{sessions: make(map[string]database.StoredSession)}
}

// Save stores a session
func (m *MockSessionStore) Save(ctx context.Context, s *database.StoredSession) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

// Get returns a session unless it is missing or expired
func (m *MockSessionStore) Get(ctx context.Context, id string) (*database.StoredSession, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || !time.Now().Before(s.ExpiresAt) {
		return nil, nil
	}
	return &s, nil
}

// Delete removes a session
func (m *MockSessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// DeleteExpired removes sessions expired at now
func (m *MockSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired ones included
func (m *MockSessionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
