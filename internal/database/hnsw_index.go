package database

import (
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/missing-persons/internal/constants"
)

// ErrIndexEmpty is returned by Search when nothing has been indexed.
var ErrIndexEmpty = errors.New("index not initialized")

// PersonIndex wraps an HNSW graph over the encodings of searchable persons.
//
// The graph never deletes nodes (coder/hnsw corrupts its layers on Delete).
// Removed persons stay in the graph as stale nodes filtered out by
// idToPerson, and the graph is rebuilt once too many of them pile up.
type PersonIndex struct {
	metric     Metric
	graph      *hnsw.Graph[int64]
	dims       int
	idToPerson map[int64]*MissingPerson
	graphVecs  map[int64][]float32 // every key present in graph, live or stale
	stale      int
	mu         sync.RWMutex
}

// NewPersonIndex creates a new empty index using the given metric.
func NewPersonIndex(metric Metric) *PersonIndex {
	return &PersonIndex{
		metric:     metric,
		idToPerson: make(map[int64]*MissingPerson),
		graphVecs:  make(map[int64][]float32),
	}
}

func (h *PersonIndex) newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	if h.metric == MetricCosine {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	return g
}

func (h *PersonIndex) reset() {
	h.graph = nil
	h.dims = 0
	h.stale = 0
	h.graphVecs = make(map[int64][]float32)
}

// Build replaces the index contents with the searchable persons.
// The first encoding fixes the index dimension; others are skipped.
func (h *PersonIndex) Build(persons []MissingPerson) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reset()
	h.idToPerson = make(map[int64]*MissingPerson, len(persons))

	for i := range persons {
		h.removeLocked(persons[i].ID)
		h.addLocked(&persons[i])
	}
}

// Add inserts or replaces a person. Non-searchable persons are removed instead.
func (h *PersonIndex) Add(person MissingPerson) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(person.ID)
	h.addLocked(&person)
}

func (h *PersonIndex) addLocked(p *MissingPerson) {
	if !p.Searchable() {
		return
	}
	if h.graph == nil {
		h.graph = h.newGraph()
		h.dims = len(p.Encoding)
	}
	if len(p.Encoding) != h.dims {
		return
	}

	if vec, ok := h.graphVecs[p.ID]; ok {
		// The key is still in the graph as a stale node.
		h.idToPerson[p.ID] = p
		h.stale--
		if !slices.Equal(vec, p.Encoding) {
			h.rebuildLocked()
		}
		return
	}

	h.graph.Add(hnsw.MakeNode(p.ID, p.Encoding))
	h.graphVecs[p.ID] = p.Encoding
	h.idToPerson[p.ID] = p
}

// Remove drops a person from the index.
func (h *PersonIndex) Remove(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *PersonIndex) removeLocked(id int64) {
	if _, ok := h.idToPerson[id]; !ok {
		return
	}
	delete(h.idToPerson, id)
	if len(h.idToPerson) == 0 {
		// Start over so the next insert may choose a new dimension.
		h.reset()
		return
	}
	h.stale++
	if h.stale > max(constants.HNSWStaleLimit, len(h.idToPerson)/4) {
		h.rebuildLocked()
	}
}

// rebuildLocked recreates the graph from the live persons only.
func (h *PersonIndex) rebuildLocked() {
	ids := make([]int64, 0, len(h.idToPerson))
	for id := range h.idToPerson {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	h.graph = h.newGraph()
	h.graphVecs = make(map[int64][]float32, len(ids))
	h.stale = 0
	for _, id := range ids {
		enc := h.idToPerson[id].Encoding
		h.graph.Add(hnsw.MakeNode(id, enc))
		h.graphVecs[id] = enc
	}
}

// Search finds the k nearest persons to the query encoding.
// Returns person IDs and their exact distances, nearest first.
func (h *PersonIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, nil, ErrIndexEmpty
	}
	if len(query) != h.dims {
		return nil, nil, nil
	}

	// Stale nodes may take some of the k slots.
	neighbors := h.graph.Search(query, k+h.stale)

	type hit struct {
		id   int64
		dist float64
	}
	hits := make([]hit, 0, len(neighbors))
	for _, n := range neighbors {
		if _, ok := h.idToPerson[n.Key]; !ok {
			continue
		}
		hits = append(hits, hit{id: n.Key, dist: Distance(h.metric, query, n.Value)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	ids := make([]int64, len(hits))
	distances := make([]float64, len(hits))
	for i, x := range hits {
		ids[i] = x.id
		distances[i] = x.dist
	}
	return ids, distances, nil
}

// Get returns the indexed copy of a person.
func (h *PersonIndex) Get(id int64) *MissingPerson {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToPerson[id]
}

// Count returns the number of indexed persons.
func (h *PersonIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToPerson)
}
