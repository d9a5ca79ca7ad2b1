package lcp

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Fallback tries each solver in order and returns the first solution.
type Fallback struct {
	Solvers []Solver
}

func (f Fallback) Solve(p *Problem) ([]float64, error) {
	if len(f.Solvers) == 0 {
		return nil, fmt.Errorf("%w: no solvers configured", ErrNotConverged)
	}
	var errs []error
	for i, s := range f.Solvers {
		x, err := s.Solve(p)
		if err == nil {
			if i > 0 {
				slog.Debug("lcp solved by fallback", "solver", i, "rows", p.Size())
			}
			return x, nil
		}
		if errors.Is(err, ErrInvalidProblem) {
			return nil, err
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// Enumerate searches every active set exhaustively. It is exact and only
// practical for a handful of rows.
type Enumerate struct {
	MaxRows   int
	Tolerance float64
}

func NewEnumerate() *Enumerate {
	return &Enumerate{MaxRows: 9, Tolerance: 1e-9}
}

func (e *Enumerate) Solve(p *Problem) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.Size()
	if n == 0 {
		return []float64{}, nil
	}
	if n > e.MaxRows {
		return nil, fmt.Errorf("%w: %d rows exceeds enumeration limit %d", ErrNotConverged, n, e.MaxRows)
	}

	tol := checkTolerance(p, e.Tolerance)
	states := make([]RowState, n)
	var found []float64
	var walk func(i int) bool
	walk = func(i int) bool {
		if i == n {
			x, err := polish(p, states)
			if err != nil || Check(p, x, tol) != nil {
				return false
			}
			found = x
			return true
		}
		for _, st := range []RowState{AtLower, Free, AtUpper} {
			if !e.admissible(p, i, st) {
				continue
			}
			states[i] = st
			if walk(i + 1) {
				return true
			}
		}
		return false
	}
	if !walk(0) {
		return nil, fmt.Errorf("enumerate: %w", ErrNotConverged)
	}
	return found, nil
}

func (e *Enumerate) admissible(p *Problem, i int, st RowState) bool {
	if p.FIndex[i] >= 0 {
		return true
	}
	switch st {
	case AtLower:
		return !math.IsInf(p.Lo[i], -1)
	case AtUpper:
		return !math.IsInf(p.Hi[i], 1) && p.Hi[i] > p.Lo[i]
	default:
		return p.Hi[i] > p.Lo[i]
	}
}

// Default returns PGS backed by exhaustive enumeration for small problems.
func Default() Solver {
	return Fallback{Solvers: []Solver{NewPGS(), NewEnumerate()}}
}
