package lcp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotConverged   = errors.New("lcp: solver did not converge")
	ErrInvalidProblem = errors.New("lcp: invalid problem")
	ErrSingular       = errors.New("lcp: singular active-set system")
)

// Problem is a boxed LCP: find x with lo ≤ x ≤ hi and w = A x + b such that
// x_i = lo_i ⇒ w_i ≥ 0, x_i = hi_i ⇒ w_i ≤ 0, and w_i = 0 strictly inside the
// box. Rows with FIndex[i] ≥ 0 scale their bounds by x[FIndex[i]], which is
// how friction rows follow their normal impulse.
type Problem struct {
	A      *mat.Dense
	B      []float64
	Lo     []float64
	Hi     []float64
	FIndex []int
}

func NewProblem(n int) *Problem {
	p := &Problem{
		B:      make([]float64, n),
		Lo:     make([]float64, n),
		Hi:     make([]float64, n),
		FIndex: make([]int, n),
	}
	if n > 0 {
		p.A = mat.NewDense(n, n, nil)
	}
	for i := range p.FIndex {
		p.FIndex[i] = -1
	}
	return p
}

func (p *Problem) Size() int { return len(p.B) }

func (p *Problem) Validate() error {
	n := p.Size()
	if len(p.Lo) != n || len(p.Hi) != n || len(p.FIndex) != n {
		return fmt.Errorf("%w: inconsistent row counts", ErrInvalidProblem)
	}
	if n == 0 {
		return nil
	}
	if r, c := p.A.Dims(); r != n || c != n {
		return fmt.Errorf("%w: A is %dx%d, want %dx%d", ErrInvalidProblem, r, c, n, n)
	}
	for i := 0; i < n; i++ {
		if p.Lo[i] > p.Hi[i] {
			return fmt.Errorf("%w: row %d has lo %g > hi %g", ErrInvalidProblem, i, p.Lo[i], p.Hi[i])
		}
		if f := p.FIndex[i]; f >= 0 {
			if f >= n || f == i || p.FIndex[f] >= 0 {
				return fmt.Errorf("%w: row %d has invalid findex %d", ErrInvalidProblem, i, f)
			}
		}
	}
	return nil
}

// Bounds returns the effective box of row i given the current solution.
func (p *Problem) Bounds(x []float64, i int) (float64, float64) {
	if f := p.FIndex[i]; f >= 0 {
		return p.Lo[i] * x[f], p.Hi[i] * x[f]
	}
	return p.Lo[i], p.Hi[i]
}

// Residual returns w = A x + b.
func (p *Problem) Residual(x []float64) []float64 {
	n := p.Size()
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := p.B[i]
		for j := 0; j < n; j++ {
			sum += p.A.At(i, j) * x[j]
		}
		w[i] = sum
	}
	return w
}

type RowState int

const (
	AtLower RowState = iota
	AtUpper
	Free
)

func (s RowState) String() string {
	switch s {
	case AtLower:
		return "lower"
	case AtUpper:
		return "upper"
	default:
		return "free"
	}
}

// Classify reports which rows of x sit on a bound. A row whose box has
// collapsed is AtLower.
func Classify(p *Problem, x []float64, tol float64) []RowState {
	out := make([]RowState, p.Size())
	for i := range out {
		lo, hi := p.Bounds(x, i)
		switch {
		case hi-lo <= tol:
			out[i] = AtLower
		case x[i] <= lo+tol:
			out[i] = AtLower
		case x[i] >= hi-tol:
			out[i] = AtUpper
		default:
			out[i] = Free
		}
	}
	return out
}

// Check verifies that x solves p to within tol.
func Check(p *Problem, x []float64, tol float64) error {
	w := p.Residual(x)
	for i := range x {
		lo, hi := p.Bounds(x, i)
		if math.IsNaN(x[i]) || x[i] < lo-tol || x[i] > hi+tol {
			return fmt.Errorf("%w: row %d value %g outside [%g, %g]", ErrNotConverged, i, x[i], lo, hi)
		}
		atLo := x[i] <= lo+tol
		atHi := x[i] >= hi-tol
		switch {
		case atLo && atHi:
		case atLo && w[i] < -tol:
			return fmt.Errorf("%w: row %d at lower bound with residual %g", ErrNotConverged, i, w[i])
		case atHi && w[i] > tol:
			return fmt.Errorf("%w: row %d at upper bound with residual %g", ErrNotConverged, i, w[i])
		case !atLo && !atHi && math.Abs(w[i]) > tol:
			return fmt.Errorf("%w: row %d interior with residual %g", ErrNotConverged, i, w[i])
		}
	}
	return nil
}
