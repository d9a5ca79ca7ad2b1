package lcp

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func boxed(a []float64, b []float64) *Problem {
	n := len(b)
	p := NewProblem(n)
	p.A = mat.NewDense(n, n, a)
	copy(p.B, b)
	for i := range p.Hi {
		p.Hi[i] = math.Inf(1)
	}
	return p
}

func TestSingleRow(t *testing.T) {
	x, err := NewPGS().Solve(boxed([]float64{2}, []float64{-4}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, x[0], 1e-12)

	x, err = NewPGS().Solve(boxed([]float64{2}, []float64{4}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, x[0])
}

func TestCoupledRows(t *testing.T) {
	x, err := NewPGS().Solve(boxed([]float64{2, 1, 1, 2}, []float64{-3, -3}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x[0], 1e-12)
	assert.InDelta(t, 1.0, x[1], 1e-12)

	x, err = NewPGS().Solve(boxed([]float64{2, 1, 1, 2}, []float64{-3, 3}))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, x[0], 1e-12)
	assert.Equal(t, 0.0, x[1])
}

func TestFrictionRows(t *testing.T) {
	p := NewProblem(3)
	p.A = mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	copy(p.B, []float64{-1, -5, 0})
	p.Hi[0] = math.Inf(1)
	p.Lo[1], p.Hi[1] = -0.5, 0.5
	p.Lo[2], p.Hi[2] = -0.5, 0.5
	p.FIndex[1], p.FIndex[2] = 0, 0

	x, err := NewPGS().Solve(p)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x[0], 1e-12)
	assert.InDelta(t, 0.5, x[1], 1e-12, "friction saturates at mu times the normal impulse")
	assert.InDelta(t, 0.0, x[2], 1e-12)
	assert.Equal(t, []RowState{Free, AtUpper, Free}, Classify(p, x, 1e-9))
}

func TestEmptyProblem(t *testing.T) {
	x, err := Default().Solve(NewProblem(0))
	require.NoError(t, err)
	assert.Empty(t, x)
}

func TestInvalidProblem(t *testing.T) {
	p := boxed([]float64{1}, []float64{0})
	p.Lo[0], p.Hi[0] = 1, 0
	_, err := Default().Solve(p)
	assert.ErrorIs(t, err, ErrInvalidProblem)

	p = boxed([]float64{1, 0, 0, 1}, []float64{0, 0})
	p.FIndex[0], p.FIndex[1] = 1, 0
	_, err = NewPGS().Solve(p)
	assert.ErrorIs(t, err, ErrInvalidProblem, "chained friction rows")
}

func TestEnumerateMatchesPGS(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		n := 2 + rng.Intn(4)
		g := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				g.Set(i, j, rng.NormFloat64())
			}
		}
		var a mat.Dense
		a.Mul(g, g.T())
		for i := 0; i < n; i++ {
			a.Set(i, i, a.At(i, i)+1)
		}
		b := make([]float64, n)
		for i := range b {
			b[i] = rng.NormFloat64()
		}
		p := boxed(a.RawMatrix().Data, b)

		want, err := NewEnumerate().Solve(p)
		require.NoError(t, err)
		got, err := NewPGS().Solve(p)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-6, "trial %d", trial)
	}
}

type failing struct{}

func (failing) Solve(*Problem) ([]float64, error) { return nil, ErrNotConverged }

func TestFallbackChain(t *testing.T) {
	x, err := Fallback{Solvers: []Solver{failing{}, NewPGS()}}.Solve(boxed([]float64{2}, []float64{-4}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, x[0], 1e-12)

	_, err = Fallback{Solvers: []Solver{failing{}, failing{}}}.Solve(boxed([]float64{2}, []float64{-4}))
	assert.True(t, errors.Is(err, ErrNotConverged))

	_, err = Fallback{}.Solve(boxed([]float64{2}, []float64{-4}))
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestCheckRejectsWrongAnswers(t *testing.T) {
	p := boxed([]float64{2}, []float64{-4})
	assert.NoError(t, Check(p, []float64{2}, 1e-9))
	assert.ErrorIs(t, Check(p, []float64{0}, 1e-9), ErrNotConverged)
	assert.ErrorIs(t, Check(p, []float64{-1}, 1e-9), ErrNotConverged)
	assert.ErrorIs(t, Check(p, []float64{3}, 1e-9), ErrNotConverged)
}
