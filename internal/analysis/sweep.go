package analysis

import (
	"context"
	"fmt"

	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/sim"
	"github.com/san-kum/diffdyn/internal/simulation"
)

// SweepPoint is the outcome of one rollout of a sweep: the final position of
// the observed dof and its positions over the last Record steps.
type SweepPoint struct {
	Param  float64
	Final  float64
	Values []float64
}

// Sweep describes a parameter scan. Build must return a fresh world on every
// call; Set applies the parameter to it before the rollout.
type Sweep struct {
	Build   func() (*simulation.World, error)
	Set     func(w *simulation.World, p float64)
	Stepper func() *neural.Stepper
	Dof     int
	Steps   int
	Record  int
	Limit   int
}

// SetFriction is a Sweep.Set for the world's friction coefficient.
func SetFriction(w *simulation.World, mu float64) { w.SetFrictionCoeff(mu) }

// Run rolls out one world per parameter, concurrently, and returns points in
// the order of params.
func (s Sweep) Run(ctx context.Context, params []float64) ([]SweepPoint, error) {
	jobs := make([]sim.Job, len(params))
	for i, p := range params {
		p := p
		stepper := neural.NewStepper()
		if s.Stepper != nil {
			stepper = s.Stepper()
		}
		jobs[i] = sim.Job{
			Name: fmt.Sprintf("param %g", p),
			Build: func() (*simulation.World, error) {
				w, err := s.Build()
				if err != nil {
					return nil, err
				}
				if s.Set != nil {
					s.Set(w, p)
				}
				return w, nil
			},
			Stepper: stepper,
			Config:  sim.Config{Steps: s.Steps},
		}
	}

	results, err := sim.NewEnsemble(s.Limit).Run(ctx, jobs)
	if err != nil {
		return nil, err
	}

	points := make([]SweepPoint, len(params))
	for i, r := range results {
		if err := checkDof(r, s.Dof); err != nil {
			return nil, err
		}
		last := len(r.Positions) - 1
		pt := SweepPoint{Param: params[i], Final: r.Positions[last][s.Dof]}
		for k := max(0, len(r.Positions)-s.Record); k <= last && s.Record > 0; k++ {
			pt.Values = append(pt.Values, r.Positions[k][s.Dof])
		}
		points[i] = pt
	}
	return points, nil
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}
