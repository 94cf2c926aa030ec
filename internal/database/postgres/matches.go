package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/missing-persons/internal/database"
)

// MatchRepository stores search matches in PostgreSQL.
type MatchRepository struct {
	pool *Pool
}

// NewMatchRepository creates a new PostgreSQL match repository.
func NewMatchRepository(pool *Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

// RecordMatch inserts a match event.
func (r *MatchRepository) RecordMatch(ctx context.Context, e *database.MatchEvent) error {
	query := `
		INSERT INTO match_events (person_id, searched_by, distance, query_image_path, notified, notify_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		e.PersonID, nullableID(e.SearchedBy), e.Distance, e.QueryImagePath, e.Notified, e.NotifyError,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert match event: %w", err)
	}
	return nil
}

// ListMatches returns the match events for a person, newest first.
func (r *MatchRepository) ListMatches(ctx context.Context, personID int64) ([]database.MatchEvent, error) {
	query := `
		SELECT id, person_id, searched_by, distance, query_image_path, notified, notify_error, created_at
		FROM match_events
		WHERE person_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.pool.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("query match events: %w", err)
	}
	defer rows.Close()

	var events []database.MatchEvent
	for rows.Next() {
		var e database.MatchEvent
		var searchedBy sql.NullInt64
		if err := rows.Scan(
			&e.ID, &e.PersonID, &searchedBy, &e.Distance, &e.QueryImagePath, &e.Notified, &e.NotifyError, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan match event: %w", err)
		}
		e.SearchedBy = searchedBy.Int64
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match events: %w", err)
	}
	return events, nil
}

// nullableID maps the zero ID to SQL NULL.
func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
