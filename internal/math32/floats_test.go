package math32

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.InDelta(t, 32.0, Dot(a, b), 1e-6)
}

func TestSquaredL2(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}
	assert.InDelta(t, 25.0, SquaredL2(a, b), 1e-6)
	assert.InDelta(t, 5.0, L2(a, b), 1e-6)
}

func TestAxpyDelta(t *testing.T) {
	w := []float32{0, 0, 0}
	x := []float32{2, 4, 8}

	AxpyDelta(w, x, 0.5)
	assert.Equal(t, []float32{1, 2, 4}, w)

	// alpha=1 lands exactly on x
	AxpyDelta(w, x, 1.0)
	assert.Equal(t, []float32{2, 4, 8}, w)
}

func TestHasNaNOrInf(t *testing.T) {
	assert.False(t, HasNaNOrInf([]float32{1, 2, 3}))
	assert.True(t, HasNaNOrInf([]float32{1, float32(math.NaN()), 3}))
	assert.True(t, HasNaNOrInf([]float32{1, float32(math.Inf(1)), 3}))
}
