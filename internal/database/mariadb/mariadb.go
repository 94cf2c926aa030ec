package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/missing-persons/internal/config"
	"github.com/kozaktomas/missing-persons/internal/database"
)

// duplicateEntry is the MySQL error number for ER_DUP_ENTRY.
const duplicateEntry = 1062

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool.
// The DSN uses the go-sql-driver format, e.g. user:pass@tcp(host:3306)/db.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	dsn, err := mysql.ParseDSN(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == duplicateEntry
}

// now returns the current time at the precision of DATETIME(6) columns.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// Open connects to MariaDB, applies pending migrations and returns the
// repositories bundled as a backend.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*database.Backend, []string, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, nil, err
	}

	applied, err := pool.Migrate(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	b := NewBackend(pool)
	b.OnClose(pool.Close)
	return b, applied, nil
}

// NewBackend wires every MariaDB repository on top of the pool.
func NewBackend(pool *Pool) *database.Backend {
	return &database.Backend{
		Name:     "mariadb",
		Users:    NewUserRepository(pool),
		Persons:  NewPersonRepository(pool),
		Matches:  NewMatchRepository(pool),
		Sessions: NewSessionRepository(pool),
	}
}
