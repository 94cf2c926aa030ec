package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/facematch"
	"github.com/pgvector/pgvector-go"
)

// PersonRepository stores missing persons with their encodings in a pgvector column.
type PersonRepository struct {
	pool *Pool
}

// NewPersonRepository creates a new PostgreSQL person repository.
func NewPersonRepository(pool *Pool) *PersonRepository {
	return &PersonRepository{pool: pool}
}

const personColumns = `id, name, age, gender, description, guardian_email, image_path,
	face_encoding, encoder, reported_by, found, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner, extra ...any) (*database.MissingPerson, error) {
	var p database.MissingPerson
	var vec pgvector.Vector
	var reportedBy sql.NullInt64

	dest := []any{
		&p.ID, &p.Name, &p.Age, &p.Gender, &p.Description, &p.GuardianEmail, &p.ImagePath,
		&vec, &p.Encoder, &reportedBy, &p.Found, &p.CreatedAt, &p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.Encoding = vec.Slice()
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

	query := `
		INSERT INTO missing_persons
			(name, name_key, age, gender, description, guardian_email, image_path, face_encoding, encoder, reported_by, found)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		p.Name, nameKey(p.Name), p.Age, p.Gender, p.Description, p.GuardianEmail, p.ImagePath,
		pgvector.NewVector(p.Encoding), p.Encoder, nullableID(p.ReportedBy), p.Found,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert missing person: %w", err)
	}
	return nil
}

// GetPerson retrieves a person by ID.
func (r *PersonRepository) GetPerson(ctx context.Context, id int64) (*database.MissingPerson, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+personColumns+" FROM missing_persons WHERE id = $1", id)
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
		args = append(args, opts.ReportedBy)
		conds = append(conds, fmt.Sprintf("reported_by = $%d", len(args)))
	}
	if name := nameKey(opts.Name); name != "" {
		args = append(args, "%"+escapeLike(name)+"%")
		conds = append(conds, fmt.Sprintf("name_key LIKE $%d", len(args)))
	}

	query := "SELECT " + personColumns + " FROM missing_persons"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	args = append(args, limit, max(opts.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return r.queryPersons(ctx, query, args...)
}

// CountPersons returns the total number of stored persons.
func (r *PersonRepository) CountPersons(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM missing_persons").Scan(&count); err != nil {
		return 0, fmt.Errorf("count missing persons: %w", err)
	}
	return count, nil
}

// ListSearchable returns every person that is still missing.
func (r *PersonRepository) ListSearchable(ctx context.Context) ([]database.MissingPerson, error) {
	return r.queryPersons(ctx, "SELECT "+personColumns+" FROM missing_persons WHERE found = FALSE ORDER BY id")
}

// FindNearest lets pgvector pick the closest still-missing person.
func (r *PersonRepository) FindNearest(ctx context.Context, encoding []float32, metric database.Metric, maxDistance float64) (*database.MissingPerson, float64, error) {
	if len(encoding) == 0 {
		return nil, 0, nil
	}

	op := "<->"
	if metric == database.MetricCosine {
		op = "<=>"
	}

	query := fmt.Sprintf(`
		SELECT %s, face_encoding %s $1 AS distance
		FROM missing_persons
		WHERE found = FALSE AND vector_dims(face_encoding) = $2
		ORDER BY distance
		LIMIT 1
	`, personColumns, op)

	var distance float64
	p, err := scanPerson(r.pool.QueryRow(ctx, query, pgvector.NewVector(encoding), len(encoding)), &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("find nearest person: %w", err)
	}
	if distance > maxDistance {
		return nil, 0, nil
	}
	return p, distance, nil
}

// UpdateEncoding replaces the stored encoding of a person.
func (r *PersonRepository) UpdateEncoding(ctx context.Context, id int64, encoding []float32, encoder string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE missing_persons SET face_encoding = $1, encoder = $2, updated_at = NOW() WHERE id = $3`,
		pgvector.NewVector(encoding), encoder, id)
	if err != nil {
		return fmt.Errorf("update face encoding: %w", err)
	}
	return nil
}

// SetFound updates the found flag of a person.
func (r *PersonRepository) SetFound(ctx context.Context, id int64, found bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE missing_persons SET found = $1, updated_at = NOW() WHERE id = $2`, found, id)
	if err != nil {
		return fmt.Errorf("set found: %w", err)
	}
	return nil
}

// DeletePerson removes a person. Match events are removed by the foreign key.
func (r *PersonRepository) DeletePerson(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM missing_persons WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete missing person: %w", err)
	}
	return nil
}

func (r *PersonRepository) queryPersons(ctx context.Context, query string, args ...any) ([]database.MissingPerson, error) {
	rows, err := r.pool.Query(ctx, query, args...)
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

// escapeLike escapes LIKE wildcards in user input.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
