package accounts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kozaktomas/missing-persons/internal/database/mock"
	"golang.org/x/crypto/bcrypt"
)

func newTestService() (*Service, *mock.MockUserStore) {
	store := mock.NewMockUserStore()
	return newService(store, bcrypt.MinCost), store
}

func TestRegister(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{
		Username:    "  alice ",
		Password:    "secret1",
		Email:       "alice@example.com",
		ContactInfo: "+420 123",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.ID == 0 || user.Username != "alice" {
		t.Errorf("unexpected user %+v", user)
	}
	if user.PasswordHash == "secret1" || !strings.HasPrefix(user.PasswordHash, "$2") {
		t.Error("password must be stored as a bcrypt hash")
	}
	if n, _ := store.CountUsers(ctx); n != 1 {
		t.Errorf("expected 1 user, got %d", n)
	}
}

func TestRegister_Duplicates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "bob", Password: "secret1", Email: "bob@example.com"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := svc.Register(ctx, RegisterInput{Username: "bob", Password: "secret2", Email: "other@example.com"})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}

	_, err = svc.Register(ctx, RegisterInput{Username: "bobby", Password: "secret2", Email: "bob@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"short username", RegisterInput{Username: "ab", Password: "secret1", Email: "a@example.com"}, "username"},
		{"long username", RegisterInput{Username: strings.Repeat("x", 51), Password: "secret1", Email: "a@example.com"}, "username"},
		{"short password", RegisterInput{Username: "carol", Password: "12345", Email: "a@example.com"}, "password"},
		{"long password", RegisterInput{Username: "carol", Password: strings.Repeat("p", 73), Email: "a@example.com"}, "password"},
		{"bad email", RegisterInput{Username: "carol", Password: "secret1", Email: "not-an-email"}, "email"},
		{"display name email", RegisterInput{Username: "carol", Password: "secret1", Email: "Carol <c@example.com>"}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "dave", Password: "hunter22", Email: "dave@example.com"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	user, err := svc.Authenticate(ctx, "dave", "hunter22")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.Username != "dave" {
		t.Errorf("unexpected user %+v", user)
	}

	if _, err := svc.Authenticate(ctx, "dave", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	store.GetError = errors.New("db down")
	if _, err := svc.Authenticate(ctx, "dave", "hunter22"); err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected storage error, got %v", err)
	}
}
