package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/facematch"
)

// PersonRepository stores missing persons in MariaDB. Encodings are kept as
// little-endian float32 blobs and compared in Go.
type PersonRepository struct {
	pool *Pool
}

// NewPersonRepository creates a new MariaDB person repository.
func NewPersonRepository(pool *Pool) *PersonRepository {
	return &PersonRepository{pool: pool}
}

const personColumns = `id, name, age, gender, description, guardian_email, image_path,
	face_encoding, encoder, reported_by, found, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner) (*database.MissingPerson, error) {
	var p database.MissingPerson
	var blob []byte
	var reportedBy sql.NullInt64

	if err := row.Scan(
		&p.ID, &p.Name, &p.Age, &p.Gender, &p.Description, &p.GuardianEmail, &p.ImagePath,
		&blob, &p.Encoder, &reportedBy, &p.Found, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	enc, err := database.DecodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("person %d: %w", p.ID, err)
	}
	p.Encoding = enc
	p.ReportedBy = reportedBy.Int64
	return &p, nil
}

// nameKey is the normalized form used for name filtering.
func nameKey(name string) string {
	return strings.TrimSpace(facematch.NormalizePersonName(name))
}

// CreatePerson inserts a new missing-person record.
func (r *PersonRepository) CreatePerson(ctx context.Context, p *database.MissingPerson) error {
	if len(p.Encoding) == 0 {
		return errors.New("face encoding is required")
	}

	ts := now()
	res, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO missing_persons
			(name, name_key, age, gender, description, guardian_email, image_path,
			 face_encoding, dims, encoder, reported_by, found, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, nameKey(p.Name), p.Age, p.Gender, p.Description, p.GuardianEmail, p.ImagePath,
		database.EncodeVector(p.Encoding), len(p.Encoding), p.Encoder, nullableID(p.ReportedBy), p.Found, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("insert missing person: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get person id: %w", err)
	}
	p.ID = id
	p.CreatedAt = ts
	p.UpdatedAt = ts
	return nil
}

// GetPerson retrieves a person by ID.
func (r *PersonRepository) GetPerson(ctx context.Context, id int64) (*database.MissingPerson, error) {
	row := r.pool.db.QueryRowContext(ctx, "SELECT "+personColumns+" FROM missing_persons WHERE id = ?", id)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get missing person: %w", err)
	}
	return p, nil
}

// ListPersons returns persons matching the options, newest first.
func (r *PersonRepository) ListPersons(ctx context.Context, opts database.ListOptions) ([]database.MissingPerson, error) {
	var conds []string
	var args []any

	if !opts.IncludeFound {
		conds = append(conds, "found = FALSE")
	}
	if opts.ReportedBy != 0 {
		conds = append(conds, "reported_by = ?")
		args = append(args, opts.ReportedBy)
	}
	if key := nameKey(opts.Name); key != "" {
		conds = append(conds, "name_key LIKE ?")
		args = append(args, "%"+escapeLike(key)+"%")
	}

	query := "SELECT " + personColumns + " FROM missing_persons"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	return r.queryPersons(ctx, query, args...)
}

// CountPersons returns the total number of stored persons.
func (r *PersonRepository) CountPersons(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM missing_persons").Scan(&count); err != nil {
		return 0, fmt.Errorf("count missing persons: %w", err)
	}
	return count, nil
}

// ListSearchable returns every person that is still missing.
func (r *PersonRepository) ListSearchable(ctx context.Context) ([]database.MissingPerson, error) {
	return r.queryPersons(ctx, "SELECT "+personColumns+" FROM missing_persons WHERE found = FALSE ORDER BY id")
}

// FindNearest scans the still-missing persons with a matching dimension.
func (r *PersonRepository) FindNearest(ctx context.Context, encoding []float32, metric database.Metric, maxDistance float64) (*database.MissingPerson, float64, error) {
	if len(encoding) == 0 {
		return nil, 0, nil
	}

	persons, err := r.queryPersons(ctx,
		"SELECT "+personColumns+" FROM missing_persons WHERE found = FALSE AND dims = ?", len(encoding))
	if err != nil {
		return nil, 0, err
	}

	best, dist := database.NearestWithin(persons, encoding, metric, maxDistance)
	return best, dist, nil
}

// UpdateEncoding replaces the stored encoding of a person.
func (r *PersonRepository) UpdateEncoding(ctx context.Context, id int64, encoding []float32, encoder string) error {
	_, err := r.pool.db.ExecContext(ctx,
		`UPDATE missing_persons SET face_encoding = ?, dims = ?, encoder = ?, updated_at = ? WHERE id = ?`,
		database.EncodeVector(encoding), len(encoding), encoder, now(), id)
	if err != nil {
		return fmt.Errorf("update face encoding: %w", err)
	}
	return nil
}

// SetFound updates the found flag of a person.
func (r *PersonRepository) SetFound(ctx context.Context, id int64, found bool) error {
	_, err := r.pool.db.ExecContext(ctx,
		`UPDATE missing_persons SET found = ?, updated_at = ? WHERE id = ?`, found, now(), id)
	if err != nil {
		return fmt.Errorf("set found: %w", err)
	}
	return nil
}

// DeletePerson removes a person. Match events are removed by the foreign key.
func (r *PersonRepository) DeletePerson(ctx context.Context, id int64) error {
	if _, err := r.pool.db.ExecContext(ctx, `DELETE FROM missing_persons WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete missing person: %w", err)
	}
	return nil
}

func (r *PersonRepository) queryPersons(ctx context.Context, query string, args ...any) ([]database.MissingPerson, error) {
	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query missing persons: %w", err)
	}
	defer rows.Close()

	var persons []database.MissingPerson
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan missing person: %w", err)
		}
		persons = append(persons, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate missing persons: %w", err)
	}
	return persons, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
