package pipeline

import "math"

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is empty, mismatched or zero-length.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// centroid averages the given vectors. Vectors whose length disagrees
// with the first are skipped; returns nil when nothing usable remains.
func centroid(vecs [][]float32) []float32 {
	var dim int
	for _, v := range vecs {
		if len(v) > 0 {
			dim = len(v)
			break
		}
	}
	if dim == 0 {
		return nil
	}
	out := make([]float64, dim)
	var n int
	for _, v := range vecs {
		if len(v) != dim {
			continue
		}
		for i := range v {
			out[i] += float64(v[i])
		}
		n++
	}
	if n == 0 {
		return nil
	}
	res := make([]float32, dim)
	for i := range out {
		res[i] = float32(out[i] / float64(n))
	}
	return res
}
