package facematch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
)

// Matcher compares query encodings against the searchable persons.
//
// Without an index the store answers FindNearest directly (pgvector or a
// linear scan). With EnableIndex an in-memory HNSW graph proposes candidates
// which are then re-checked against the store. When the graph has no match
// the store is asked as well, since rows written by other processes (person
// import, another replica) are not in this process's graph.
type Matcher struct {
	persons   database.PersonReader
	metric    database.Metric
	tolerance float64
	index     *database.PersonIndex
}

// NewMatcher creates a matcher. A non-positive tolerance selects the default.
func NewMatcher(persons database.PersonReader, metric database.Metric, tolerance float64) *Matcher {
	if tolerance <= 0 {
		tolerance = constants.DefaultTolerance
	}
	return &Matcher{persons: persons, metric: metric, tolerance: tolerance}
}

// Tolerance returns the maximum distance that still counts as a match.
func (m *Matcher) Tolerance() float64 {
	return m.tolerance
}

// Metric returns the distance metric in use.
func (m *Matcher) Metric() database.Metric {
	return m.metric
}

// EnableIndex builds the HNSW index from the store and returns its size.
func (m *Matcher) EnableIndex(ctx context.Context) (int, error) {
	persons, err := m.persons.ListSearchable(ctx)
	if err != nil {
		return 0, fmt.Errorf("load searchable persons: %w", err)
	}
	idx := database.NewPersonIndex(m.metric)
	idx.Build(persons)
	m.index = idx
	return idx.Count(), nil
}

// Indexed reports whether searches go through the HNSW index.
func (m *Matcher) Indexed() bool {
	return m.index != nil
}

// Add keeps the index in sync after a person was created or changed.
func (m *Matcher) Add(p database.MissingPerson) {
	if m.index != nil {
		m.index.Add(p)
	}
}

// Remove drops a person from the index.
func (m *Matcher) Remove(id int64) {
	if m.index != nil {
		m.index.Remove(id)
	}
}

// Best returns the closest searchable person within tolerance, or nil.
func (m *Matcher) Best(ctx context.Context, encoding []float32) (*database.MissingPerson, float64, error) {
	if len(encoding) == 0 {
		return nil, 0, nil
	}
	if m.index != nil {
		p, dist, err := m.bestIndexed(ctx, encoding)
		if err != nil || p != nil {
			return p, dist, err
		}
	}

	p, dist, err := m.persons.FindNearest(ctx, encoding, m.metric, m.tolerance)
	if err != nil {
		return nil, 0, fmt.Errorf("find nearest: %w", err)
	}
	if p != nil && m.index != nil {
		m.index.Add(*p)
	}
	return p, dist, nil
}

func (m *Matcher) bestIndexed(ctx context.Context, encoding []float32) (*database.MissingPerson, float64, error) {
	ids, distances, err := m.index.Search(encoding, constants.IndexCandidates)
	if errors.Is(err, database.ErrIndexEmpty) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	for i, id := range ids {
		if distances[i] > m.tolerance {
			break
		}
		// The index may lag behind the store; trust only the stored row.
		p, err := m.persons.GetPerson(ctx, id)
		if err != nil {
			return nil, 0, fmt.Errorf("load candidate %d: %w", id, err)
		}
		if p == nil || !p.Searchable() || len(p.Encoding) != len(encoding) {
			m.index.Remove(id)
			continue
		}
		if d := database.Distance(m.metric, p.Encoding, encoding); d <= m.tolerance {
			return p, d, nil
		}
	}
	return nil, 0, nil
}
