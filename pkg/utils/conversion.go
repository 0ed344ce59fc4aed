package utils

import "math"

func ConvertToFloat32(f []float64) []float32 {
	out := make([]float32, len(f))
	for i, v := range f {
		out[i] = float32(v)
	}
	return out
}

/*
Normalize scales v to unit length in place and returns it. A zero vector is
returned unchanged.
*/
func Normalize(v []float32) []float32 {
	var norm float64

	for _, x := range v {
		norm += float64(x) * float64(x)
	}

	if norm == 0 {
		return v
	}

	scale := float32(1 / math.Sqrt(norm))

	for i := range v {
		v[i] *= scale
	}

	return v
}
