package lcp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type Solver interface {
	Solve(p *Problem) ([]float64, error)
}

// PGS runs projected Gauss-Seidel sweeps and then solves the free rows of the
// resulting active set exactly.
type PGS struct {
	MaxIterations int
	Tolerance     float64
	PolishPasses  int
}

func NewPGS() *PGS {
	return &PGS{
		MaxIterations: 500,
		Tolerance:     1e-9,
		PolishPasses:  6,
	}
}

func (s *PGS) Solve(p *Problem) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.Size()
	x := make([]float64, n)
	if n == 0 {
		return x, nil
	}

	tol := checkTolerance(p, s.Tolerance)
	s.sweep(p, x)

	classTol := s.Tolerance
	for pass := 0; pass < s.PolishPasses; pass++ {
		states := Classify(p, x, classTol*(1+maxAbs(x)))
		if y, err := polish(p, states); err == nil && Check(p, y, tol) == nil {
			return y, nil
		}
		classTol *= 10
		s.sweep(p, x)
	}

	if err := Check(p, x, tol); err != nil {
		return nil, fmt.Errorf("pgs after %d sweeps: %w", s.MaxIterations*(s.PolishPasses+1), err)
	}
	return x, nil
}

func (s *PGS) sweep(p *Problem, x []float64) {
	n := p.Size()
	for it := 0; it < s.MaxIterations; it++ {
		delta := 0.0
		for i := 0; i < n; i++ {
			aii := p.A.At(i, i)
			if aii <= 0 {
				continue
			}
			w := p.B[i]
			for j := 0; j < n; j++ {
				w += p.A.At(i, j) * x[j]
			}
			lo, hi := p.Bounds(x, i)
			next := clamp(x[i]-w/aii, lo, hi)
			delta = math.Max(delta, math.Abs(next-x[i]))
			x[i] = next
		}
		if delta < s.Tolerance {
			return
		}
	}
}

// polish fixes every non-free row at its bound and solves the free rows so
// their residuals vanish.
func polish(p *Problem, states []RowState) ([]float64, error) {
	n := p.Size()
	col := make([]int, n)
	var free []int
	for i, st := range states {
		col[i] = -1
		if st == Free {
			col[i] = len(free)
			free = append(free, i)
		}
	}

	z0 := make([]float64, n)
	for i, st := range states {
		if st != Free && p.FIndex[i] < 0 {
			z0[i] = boundOf(p, i, st)
		}
	}
	m := len(free)
	if m == 0 {
		for i, st := range states {
			if f := p.FIndex[i]; f >= 0 && st != Free {
				z0[i] = boundOf(p, i, st) * z0[f]
			}
		}
		return z0, nil
	}

	// x = z0 + Z xF
	Z := mat.NewDense(n, m, nil)
	for i, st := range states {
		switch {
		case st == Free:
			Z.Set(i, col[i], 1)
		case p.FIndex[i] >= 0:
			f := p.FIndex[i]
			coef := boundOf(p, i, st)
			if states[f] == Free {
				Z.Set(i, col[f], coef)
			} else {
				z0[i] = coef * z0[f]
			}
		}
	}

	K := mat.NewDense(m, m, nil)
	rhs := mat.NewVecDense(m, nil)
	for r, i := range free {
		sum := p.B[i]
		for j := 0; j < n; j++ {
			sum += p.A.At(i, j) * z0[j]
		}
		rhs.SetVec(r, -sum)
		for c := 0; c < m; c++ {
			v := 0.0
			for j := 0; j < n; j++ {
				v += p.A.At(i, j) * Z.At(j, c)
			}
			K.Set(r, c, v)
		}
	}

	xF, err := solveSquare(K, rhs)
	if err != nil {
		return nil, err
	}

	x := make([]float64, n)
	for i := 0; i < n; i++ {
		v := z0[i]
		for c := 0; c < m; c++ {
			v += Z.At(i, c) * xF.AtVec(c)
		}
		x[i] = v
	}
	return x, nil
}

// solveSquare solves K x = b by LU, falling back to a rank-revealing SVD
// least-squares solve when K is singular.
func solveSquare(K *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	var x mat.VecDense
	err := x.SolveVec(K, b)
	if err == nil {
		return &x, nil
	}
	var svd mat.SVD
	if !svd.Factorize(K, mat.SVDThin) {
		return nil, fmt.Errorf("%w: svd factorization failed", ErrSingular)
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		m, _ := K.Dims()
		return mat.NewVecDense(m, nil), nil
	}
	var y mat.VecDense
	svd.SolveVecTo(&y, b, rank)
	return &y, nil
}

func boundOf(p *Problem, i int, st RowState) float64 {
	if st == AtUpper {
		return p.Hi[i]
	}
	return p.Lo[i]
}

func checkTolerance(p *Problem, tol float64) float64 {
	return 100 * tol * (1 + maxAbs(p.B))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
