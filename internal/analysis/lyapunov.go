package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/simulation"
	"gonum.org/v1/gonum/mat"
)

var ErrNoSteps = errors.New("analysis: no recorded steps")

// StepMap is the Jacobian of (q, v) -> (q', v') for one recorded step:
//
//	| PosPos  VelPos |
//	| PosVel  VelVel |
func StepMap(w *simulation.World, snap *neural.BackpropSnapshot) (*mat.Dense, error) {
	n := snap.NumDofs()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	blocks := []struct {
		jac      func(*simulation.World) (*mat.Dense, error)
		row, col int
	}{
		{snap.PosPosJacobian, 0, 0},
		{snap.VelPosJacobian, 0, n},
		{snap.PosVelJacobian, n, 0},
		{snap.VelVelJacobian, n, n},
	}
	m := mat.NewDense(2*n, 2*n, nil)
	for _, b := range blocks {
		j, err := b.jac(w)
		if err != nil {
			return nil, err
		}
		m.Slice(b.row, b.row+n, b.col, b.col+n).(*mat.Dense).Copy(j)
	}
	return m, nil
}

// LyapunovSpectrum estimates all 2n exponents of the recorded rollout by
// carrying an orthonormal frame through each step map and re-orthonormalizing
// it with QR. Exponents are per unit time, largest first.
func LyapunovSpectrum(w *simulation.World, snaps []*neural.BackpropSnapshot) ([]float64, error) {
	if len(snaps) == 0 {
		return nil, ErrNoSteps
	}
	n := 2 * snaps[0].NumDofs()
	if n == 0 {
		return []float64{}, nil
	}

	q := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		q.Set(i, i, 1)
	}
	sums := make([]float64, n)
	var duration float64

	var m, r mat.Dense
	var qr mat.QR
	for k, snap := range snaps {
		step, err := StepMap(w, snap)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", k, err)
		}
		m.Mul(step, q)
		qr.Factorize(&m)
		qr.QTo(q)
		qr.RTo(&r)
		for i := range sums {
			sums[i] += math.Log(math.Abs(r.At(i, i)))
		}
		duration += snap.TimeStep()
	}

	for i := range sums {
		sums[i] /= duration
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sums)))
	return sums, nil
}

// LyapunovExponent estimates the largest exponent by stepping a copy of the
// state displaced by perturbation along the first dof and renormalizing the
// separation whenever it grows past one. The world is left as it was.
func LyapunovExponent(w *simulation.World, stepper *neural.Stepper, steps int, perturbation float64) (float64, error) {
	if steps <= 0 {
		return 0, ErrNoSteps
	}
	if w.NumDofs() == 0 || perturbation <= 0 {
		return 0, nil
	}

	var lambda float64
	err := simulation.Preserve(w, func() error {
		x := dynamo.Vector(append(w.Positions(), w.Velocities()...))
		xp := x.Clone()
		xp[0] += perturbation

		advance := func(state dynamo.Vector) (dynamo.Vector, error) {
			n := w.NumDofs()
			w.SetPositions(state[:n])
			w.SetVelocities(state[n:])
			if _, err := stepper.ForwardPass(w, false); err != nil {
				return nil, err
			}
			return dynamo.Vector(append(w.Positions(), w.Velocities()...)), nil
		}

		var sumLog float64
		for k := 0; k < steps; k++ {
			var err error
			if x, err = advance(x); err != nil {
				return err
			}
			if xp, err = advance(xp); err != nil {
				return err
			}
			sep := xp.Sub(x).Norm()
			if sep == 0 {
				continue
			}
			sumLog += math.Log(sep / perturbation)
			xp = x.Add(xp.Sub(x).Scale(perturbation / sep))
		}
		lambda = sumLog / (float64(steps) * w.TimeStep())
		return nil
	})
	return lambda, err
}
