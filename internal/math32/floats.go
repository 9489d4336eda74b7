// Package math32 provides scalar float32 vector operations shared by the
// distance, training and clustering packages.
package math32

import "math"

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}

	return ret
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var distance float32
	for i := range a {
		distance += (a[i] - b[i]) * (a[i] - b[i])
	}

	return distance
}

// L2 calculates the Euclidean distance between two vectors.
func L2(a, b []float32) float32 {
	return Sqrt(SquaredL2(a, b))
}

// Sqrt returns the square root of x as a float32.
func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// ScaleInPlace multiplies all elements of a by scalar.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// AxpyDelta performs w[i] += alpha * (x[i] - w[i]) for all i.
//
// This is the weight-update kernel of competitive learning: it moves w a
// fraction alpha of the way toward x.
func AxpyDelta(w, x []float32, alpha float32) {
	for i := range w {
		w[i] += alpha * (x[i] - w[i])
	}
}

// HasNaNOrInf reports whether v contains a NaN or an infinity.
func HasNaNOrInf(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}

	return false
}
