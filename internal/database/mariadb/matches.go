package mariadb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/missing-persons/internal/database"
)

// MatchRepository stores search matches in MariaDB.
type MatchRepository struct {
	pool *Pool
}

// NewMatchRepository creates a new MariaDB match repository.
func NewMatchRepository(pool *Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

// RecordMatch inserts a match event.
func (r *MatchRepository) RecordMatch(ctx context.Context, e *database.MatchEvent) error {
	ts := now()
	res, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO match_events
			(person_id, searched_by, distance, query_image_path, notified, notify_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.PersonID, nullableID(e.SearchedBy), e.Distance, e.QueryImagePath, e.Notified, e.NotifyError, ts)
	if err != nil {
		return fmt.Errorf("insert match event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get match event id: %w", err)
	}
	e.ID = id
	e.CreatedAt = ts
	return nil
}

// ListMatches returns the match events for a person, newest first.
func (r *MatchRepository) ListMatches(ctx context.Context, personID int64) ([]database.MatchEvent, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, person_id, searched_by, distance, query_image_path, notified, notify_error, created_at
		FROM match_events
		WHERE person_id = ?
		ORDER BY created_at DESC, id DESC`, personID)
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
