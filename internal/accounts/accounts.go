// Package accounts registers users and checks their credentials.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrEmailTaken is returned when the email belongs to another account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RegisterInput is the data submitted by the registration form.
type RegisterInput struct {
	Username    string
	Password    string
	Email       string
	ContactInfo string
}

// Service manages user accounts.
type Service struct {
	users database.UserStore
	cost  int
	// dummyHash is compared against when the user does not exist so that
	// unknown usernames take as long as wrong passwords.
	dummyHash []byte
}

// NewService creates an account service using bcrypt's default cost.
func NewService(users database.UserStore) *Service {
	return newService(users, bcrypt.DefaultCost)
}

func newService(users database.UserStore, cost int) *Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("missing-persons"), cost)
	return &Service{users: users, cost: cost, dummyHash: dummy}
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.ContactInfo = strings.TrimSpace(in.ContactInfo)
}

func (in *RegisterInput) validate() error {
	n := utf8.RuneCountInString(in.Username)
	if n < constants.MinUsernameLength || n > constants.MaxUsernameLength {
		return invalid("username", "Username must be between %d and %d characters",
			constants.MinUsernameLength, constants.MaxUsernameLength)
	}
	if utf8.RuneCountInString(in.Password) < constants.MinPasswordLength {
		return invalid("password", "Password must be at least %d characters", constants.MinPasswordLength)
	}
	// bcrypt ignores everything past 72 bytes.
	if len(in.Password) > 72 {
		return invalid("password", "Password must be at most 72 bytes")
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return invalid("email", "Invalid email address")
	}
	return nil
}

// Register validates the input and creates the account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*database.User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	existing, err := s.users.GetUserByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("lookup username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &database.User{
		Username:     in.Username,
		PasswordHash: string(hash),
		Email:        in.Email,
		ContactInfo:  in.ContactInfo,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			// Either a concurrent registration took the name or the email is in use.
			if again, _ := s.users.GetUserByUsername(ctx, in.Username); again != nil {
				return nil, ErrUsernameTaken
			}
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate returns the user when the password matches.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*database.User, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
