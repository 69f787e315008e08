package rag

import "math"

// cosineEpsilon keeps the denominator positive for zero vectors.
const cosineEpsilon = 1e-10

// Cosine returns the cosine similarity of a and b. When lengths differ the
// dot product covers the shared prefix while the norms use each full
// vector.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (norm(a)*norm(b) + cosineEpsilon)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
