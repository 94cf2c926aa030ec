package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/missing-persons/internal/database"
)

// UserRepository provides MariaDB-backed account storage.
type UserRepository struct {
	pool *Pool
}

// NewUserRepository creates a new MariaDB user repository.
func NewUserRepository(pool *Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, username, password_hash, email, contact_info, created_at`

// CreateUser inserts a new account.
func (r *UserRepository) CreateUser(ctx context.Context, u *database.User) error {
	createdAt := now()
	res, err := r.pool.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, email, contact_info, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.Email, u.ContactInfo, createdAt)
	if isDuplicate(err) {
		return database.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = createdAt
	return nil
}

// GetUser retrieves a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id int64) (*database.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetUserByUsername retrieves a user by username.
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*database.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*database.User, error) {
	var u database.User
	err := r.pool.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.ContactInfo, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// CountUsers returns the number of registered accounts.
func (r *UserRepository) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}
