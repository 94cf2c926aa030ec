package database

import (
	"fmt"
	"math"
	"strings"
)

// Metric selects how two face encodings are compared.
type Metric string

const (
	// MetricEuclidean is the L2 distance used by dlib face descriptors.
	MetricEuclidean Metric = "euclidean"
	// MetricCosine is 1 - cosine similarity, used by normalized embeddings.
	MetricCosine Metric = "cosine"
)

// ParseMetric converts a configuration value into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricEuclidean, "":
		return MetricEuclidean, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// Distance computes the distance between two encodings with the given metric.
// Vectors of different length are infinitely far apart.
func Distance(metric Metric, a, b []float32) float64 {
	if metric == MetricCosine {
		return CosineDistance(a, b)
	}
	return EuclideanDistance(a, b)
}

// EuclideanDistance computes the L2 distance between two vectors.
// Returns +Inf for invalid input.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// NearestWithin scans persons and returns the searchable one closest to the
// encoding if its distance is within maxDistance.
func NearestWithin(persons []MissingPerson, encoding []float32, metric Metric, maxDistance float64) (*MissingPerson, float64) {
	var best *MissingPerson
	bestDist := math.Inf(1)
	for i := range persons {
		p := &persons[i]
		if !p.Searchable() || len(p.Encoding) != len(encoding) {
			continue
		}
		d := Distance(metric, p.Encoding, encoding)
		if d <= maxDistance && d < bestDist {
			best = p
			bestDist = d
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestDist
}
