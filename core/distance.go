package core

import (
	"fmt"
	"math"
)

// Metric selects the distance function used to compare vectors.
type Metric string

const (
	// MetricCosine is 1 - cosine similarity, in [0, 2].
	MetricCosine Metric = "cosine"
	// MetricL2 is the Euclidean distance.
	MetricL2 Metric = "l2"
)

// ParseMetric converts a configuration value into a Metric.
// The empty string selects cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricL2:
		return MetricL2, nil
	}
	return "", fmt.Errorf("%w: unknown distance metric %q", ErrConfiguration, s)
}

// Distance computes the distance between a and b under the metric.
func (m Metric) Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	switch m {
	case MetricL2:
		return L2Distance(a, b), nil
	case "", MetricCosine:
		return CosineDistance(a, b), nil
	}
	return 0, fmt.Errorf("%w: unknown distance metric %q", ErrConfiguration, string(m))
}

// CosineDistance returns 1 - cos(a, b). A zero vector is treated as orthogonal
// to everything. Callers must pass vectors of equal length.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// rounding can push |sim| slightly past 1
	sim = math.Max(-1, math.Min(1, sim))
	return 1 - sim
}

// L2Distance returns the Euclidean distance between a and b.
// Callers must pass vectors of equal length.
func L2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// MatchPercent normalizes a distance to a 0-100 score: (1 - d/2) * 100,
// clamped to the range.
func MatchPercent(distance float64) float64 {
	p := (1 - distance/2) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
