package automation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/diffdyn/internal/config"
	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/scenario"
	"github.com/san-kum/diffdyn/internal/sim"
	"github.com/san-kum/diffdyn/internal/simulation"
)

const DefaultBound = 1e6

// MonteCarlo rolls out Trials copies of Config with every initial position
// displaced uniformly within ±Perturbation. Draws come from Seed in trial
// order, so results do not depend on scheduling.
type MonteCarlo struct {
	Config       *config.Config
	Perturbation float64
	Trials       int
	Seed         int64
	Limit        int

	// Bound on |q| and |v| past which a trial counts as unstable; zero
	// means DefaultBound.
	Bound float64
}

// Trial is one rollout. A trial whose step failed is unstable and carries
// the failure in Err.
type Trial struct {
	ID      int
	Initial []float64
	Final   []float64
	Stable  bool
	Err     error
}

func (m MonteCarlo) build(reg *scenario.Registry) (*simulation.World, error) {
	w, err := reg.Build(m.Config.Scenario)
	if err != nil {
		return nil, err
	}
	if err := m.Config.Apply(w); err != nil {
		return nil, err
	}
	return w, nil
}

func (m MonteCarlo) Run(ctx context.Context, reg *scenario.Registry) ([]Trial, error) {
	if m.Trials <= 0 {
		return nil, fmt.Errorf("%w: %d trials", config.ErrInvalidConfig, m.Trials)
	}
	bound := m.Bound
	if bound == 0 {
		bound = DefaultBound
	}

	base, err := m.build(reg)
	if err != nil {
		return nil, err
	}
	q0 := base.Positions()

	rng := rand.New(rand.NewSource(m.Seed))
	trials := make([]Trial, m.Trials)
	for i := range trials {
		q := make([]float64, len(q0))
		for k := range q {
			q[k] = q0[k] + (rng.Float64()-0.5)*2*m.Perturbation
		}
		trials[i] = Trial{ID: i, Initial: q}
	}

	err = dynamo.ParallelEach(ctx, m.Trials, m.Limit, func(ctx context.Context, i int) error {
		w, err := m.build(reg)
		if err != nil {
			return err
		}
		w.SetPositions(trials[i].Initial)

		s := sim.New(w, m.Config.NewStepper())
		ctrl, err := m.Config.NewController(w)
		if err != nil {
			return err
		}
		if ctrl != nil {
			s.SetController(ctrl)
		}

		_, runErr := s.Run(ctx, sim.Config{Steps: m.Config.Steps, MaxSpeed: bound})
		if errors.Is(runErr, dynamo.ErrContextCanceled) {
			return runErr
		}
		t := &trials[i]
		t.Final = append(w.Positions(), w.Velocities()...)
		t.Err = runErr
		t.Stable = runErr == nil && bounded(t.Final, bound)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trials, nil
}

func bounded(x []float64, bound float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.Abs(v) > bound {
			return false
		}
	}
	return true
}

func Stats(trials []Trial) (stable, unstable int) {
	for _, t := range trials {
		if t.Stable {
			stable++
		} else {
			unstable++
		}
	}
	return stable, unstable
}
