package database

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
)

func TestPersonIndex_SearchEmpty(t *testing.T) {
	idx := NewPersonIndex(MetricEuclidean)
	if _, _, err := idx.Search([]float32{0, 0}, 3); !errors.Is(err, ErrIndexEmpty) {
		t.Errorf("Search() error = %v, want ErrIndexEmpty", err)
	}
}

func TestPersonIndex_BuildAndSearch(t *testing.T) {
	idx := NewPersonIndex(MetricEuclidean)
	idx.Build([]MissingPerson{
		{ID: 1, Encoding: []float32{0, 0}},
		{ID: 2, Encoding: []float32{1, 0}},
		{ID: 3, Encoding: []float32{5, 5}},
		{ID: 4, Encoding: []float32{0.1, 0}, Found: true},
		{ID: 5, Encoding: []float32{0, 0, 0}},
	})

	if idx.Count() != 3 {
		t.Fatalf("Count() = %d, want 3 (found and wrong-dimension persons skipped)", idx.Count())
	}

	ids, dists, err := idx.Search([]float32{0.2, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("Search() returned no results")
	}
	if ids[0] != 1 {
		t.Errorf("nearest ID = %d, want 1", ids[0])
	}
	for i := 1; i < len(dists); i++ {
		if dists[i] < dists[i-1] {
			t.Errorf("distances not sorted: %v", dists)
		}
	}

	if ids, _, _ := idx.Search([]float32{0, 0, 0}, 2); len(ids) != 0 {
		t.Errorf("dimension mismatch should return nothing, got %v", ids)
	}
}

func TestPersonIndex_AddRemove(t *testing.T) {
	idx := NewPersonIndex(MetricCosine)
	idx.Add(MissingPerson{ID: 7, Name: "Anna", Encoding: []float32{1, 0}})
	idx.Add(MissingPerson{ID: 8, Name: "Petr", Encoding: []float32{0, 1}})

	if p := idx.Get(7); p == nil || p.Name != "Anna" {
		t.Fatalf("Get(7) = %+v", p)
	}

	// Re-adding as found removes the person.
	idx.Add(MissingPerson{ID: 7, Name: "Anna", Encoding: []float32{1, 0}, Found: true})
	if idx.Get(7) != nil {
		t.Error("found person should be removed from index")
	}

	idx.Remove(8)
	if idx.Count() != 0 {
		t.Errorf("Count() = %d, want 0", idx.Count())
	}
	if _, _, err := idx.Search([]float32{1, 0}, 1); !errors.Is(err, ErrIndexEmpty) {
		t.Errorf("Search() on emptied index error = %v, want ErrIndexEmpty", err)
	}

	// Emptied index accepts a new dimension.
	idx.Add(MissingPerson{ID: 9, Encoding: []float32{1, 0, 0}})
	ids, _, err := idx.Search([]float32{1, 0, 0}, 1)
	if err != nil || len(ids) != 1 || ids[0] != 9 {
		t.Errorf("Search() = %v, %v", ids, err)
	}
}

func randomEncoding(r *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = r.Float32()
	}
	return v
}

func TestPersonIndex_RemoveThenAdd(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	const dims = 16

	persons := make([]MissingPerson, 60)
	for i := range persons {
		persons[i] = MissingPerson{ID: int64(i + 1), Encoding: randomEncoding(r, dims)}
	}
	idx := NewPersonIndex(MetricEuclidean)
	idx.Build(persons)

	// Removals only mark graph nodes stale.
	for id := int64(1); id <= 20; id++ {
		idx.Remove(id)
	}
	if idx.Count() != 40 {
		t.Fatalf("Count() = %d, want 40", idx.Count())
	}

	// Re-adding removed persons, some with a new encoding, and inserting new ones
	// must keep working.
	persons[0].Encoding = randomEncoding(r, dims)
	idx.Add(persons[0])
	idx.Add(persons[1])
	for id := int64(61); id <= 70; id++ {
		idx.Add(MissingPerson{ID: id, Encoding: randomEncoding(r, dims)})
	}
	if idx.Count() != 52 {
		t.Fatalf("Count() = %d, want 52", idx.Count())
	}

	for id := int64(3); id <= 20; id++ {
		ids, _, err := idx.Search(persons[id-1].Encoding, 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if slices.Contains(ids, id) {
			t.Errorf("removed person %d returned by Search()", id)
		}
	}

	ids, dists, err := idx.Search(persons[0].Encoding, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(ids) == 0 || ids[0] != 1 || dists[0] != 0 {
		t.Errorf("re-added person 1 not found with its new encoding: %v %v", ids, dists)
	}
}

func TestPersonIndex_RebuildsAfterManyRemovals(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	idx := NewPersonIndex(MetricEuclidean)
	for id := int64(1); id <= 200; id++ {
		idx.Add(MissingPerson{ID: id, Encoding: randomEncoding(r, 8)})
	}

	for id := int64(1); id <= 150; id++ {
		idx.Remove(id)
		idx.Add(MissingPerson{ID: 1000 + id, Encoding: randomEncoding(r, 8)})
	}

	idx.mu.RLock()
	stale, inGraph := idx.stale, len(idx.graphVecs)
	idx.mu.RUnlock()
	if stale > 50 {
		t.Errorf("stale = %d, expected the graph to be rebuilt", stale)
	}
	if inGraph != idx.Count()+stale {
		t.Errorf("graph holds %d nodes, want %d live + %d stale", inGraph, idx.Count(), stale)
	}
}
