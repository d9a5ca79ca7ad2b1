package neural

import (
	"fmt"

	"github.com/san-kum/diffdyn/internal/simulation"
	"gonum.org/v1/gonum/mat"
)

// FiniteDifferenceEpsilon is the perturbation used by the finite-difference
// Jacobians.
const FiniteDifferenceEpsilon = 1e-6

type stateInput int

const (
	inputPosition stateInput = iota
	inputVelocity
	inputTorque
)

func readPositions(w *simulation.World) []float64  { return w.Positions() }
func readVelocities(w *simulation.World) []float64 { return w.Velocities() }

// finiteDifference perturbs one pre-step input at a time, reruns the step in
// subdivisions sub-steps and central-differences the output.
func (s *BackpropSnapshot) finiteDifference(w *simulation.World, input stateInput, output func(*simulation.World) []float64, subdivisions int) (*mat.Dense, error) {
	if subdivisions < 1 {
		return nil, fmt.Errorf("neural: subdivisions must be positive, got %d", subdivisions)
	}
	n := s.numDofs
	jac := newDense(n, n)
	if n == 0 {
		return jac, nil
	}
	const eps = FiniteDifferenceEpsilon
	err := s.atPreStep(w, func() error {
		for j := 0; j < n; j++ {
			plus, err := s.perturbedStep(w, input, j, eps, output, subdivisions)
			if err != nil {
				return err
			}
			minus, err := s.perturbedStep(w, input, j, -eps, output, subdivisions)
			if err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				jac.Set(i, j, (plus[i]-minus[i])/(2*eps))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jac, nil
}

func (s *BackpropSnapshot) perturbedStep(w *simulation.World, input stateInput, j int, eps float64, output func(*simulation.World) []float64, subdivisions int) ([]float64, error) {
	q, v, tau := clone(s.prePositions), clone(s.preVelocities), clone(s.preForces)
	switch input {
	case inputPosition:
		q[j] += eps
	case inputVelocity:
		v[j] += eps
	case inputTorque:
		tau[j] += eps
	}
	w.SetPositions(q)
	w.SetVelocities(v)
	w.SetForces(tau)
	w.SetTimeStep(s.timeStep / float64(subdivisions))
	st := stepperOrDefault(s.stepper)
	for k := 0; k < subdivisions; k++ {
		if _, err := st.ForwardPass(w, false); err != nil {
			return nil, err
		}
	}
	return output(w), nil
}

func (s *BackpropSnapshot) FiniteDifferenceVelVelJacobian(w *simulation.World) (*mat.Dense, error) {
	return s.finiteDifference(w, inputVelocity, readVelocities, 1)
}

func (s *BackpropSnapshot) FiniteDifferenceForceVelJacobian(w *simulation.World) (*mat.Dense, error) {
	return s.finiteDifference(w, inputTorque, readVelocities, 1)
}

func (s *BackpropSnapshot) FiniteDifferencePosVelJacobian(w *simulation.World) (*mat.Dense, error) {
	return s.finiteDifference(w, inputPosition, readVelocities, 1)
}

func (s *BackpropSnapshot) FiniteDifferencePosPosJacobian(w *simulation.World, subdivisions int) (*mat.Dense, error) {
	return s.finiteDifference(w, inputPosition, readPositions, subdivisions)
}

func (s *BackpropSnapshot) FiniteDifferenceVelPosJacobian(w *simulation.World, subdivisions int) (*mat.Dense, error) {
	return s.finiteDifference(w, inputVelocity, readPositions, subdivisions)
}
