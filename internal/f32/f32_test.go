package f32

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum(t *testing.T) {
	assert.Zero(t, Sum(nil))
	assert.Equal(t, float32(10), Sum([]float32{1, 2, 3, 4}))
	assert.Equal(t, float32(0), Sum([]float32{5, -5}))
}

func TestScale(t *testing.T) {
	a := []float32{1, 2, 3}
	Scale(a, 0.5)
	assert.Equal(t, []float32{0.5, 1, 1.5}, a)

	Scale(nil, 2) // must not panic
}

func TestAddInPlace(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{10, 20, 30}
	AddInPlace(a, b)
	assert.Equal(t, []float32{11, 22, 33}, a)
	assert.Equal(t, []float32{10, 20, 30}, b, "second operand stays untouched")
}

func TestFill(t *testing.T) {
	a := []float32{1, 2, 3}
	Fill(a, 7)
	assert.Equal(t, []float32{7, 7, 7}, a)

	Fill(a, 0)
	assert.Equal(t, []float32{0, 0, 0}, a)
}
