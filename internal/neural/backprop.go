package neural

import (
	"fmt"

	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/simulation"
	"gonum.org/v1/gonum/mat"
)

// LossGradient holds ∂L/∂ of a scalar loss with respect to the state of one
// time step.
type LossGradient struct {
	Position []float64
	Velocity []float64
	Torque   []float64
}

func NewLossGradient(n int) LossGradient {
	return LossGradient{
		Position: make([]float64, n),
		Velocity: make([]float64, n),
		Torque:   make([]float64, n),
	}
}

// Backprop maps the loss gradient with respect to the post-step state to the
// gradient with respect to the pre-step positions, velocities and torques.
func (s *BackpropSnapshot) Backprop(w *simulation.World, next LossGradient) (LossGradient, error) {
	n := s.numDofs
	if err := dynamo.Vector(next.Position).CheckLen(n); err != nil {
		return LossGradient{}, fmt.Errorf("position gradient: %w", err)
	}
	if err := dynamo.Vector(next.Velocity).CheckLen(n); err != nil {
		return LossGradient{}, fmt.Errorf("velocity gradient: %w", err)
	}
	out := NewLossGradient(n)
	if n == 0 {
		return out, nil
	}

	posPos, err := s.PosPosJacobian(w)
	if err != nil {
		return LossGradient{}, err
	}
	posVel, err := s.PosVelJacobian(w)
	if err != nil {
		return LossGradient{}, err
	}
	velPos, err := s.VelPosJacobian(w)
	if err != nil {
		return LossGradient{}, err
	}
	velVel, err := s.VelVelJacobian(w)
	if err != nil {
		return LossGradient{}, err
	}
	forcePos, err := s.ForcePosJacobian(w)
	if err != nil {
		return LossGradient{}, err
	}
	forceVel, err := s.ForceVelJacobian(w)
	if err != nil {
		return LossGradient{}, err
	}

	gq := mat.NewVecDense(n, clone(next.Position))
	gv := mat.NewVecDense(n, clone(next.Velocity))
	chain := func(dst []float64, fromPos, fromVel mat.Matrix) {
		var a, b mat.VecDense
		a.MulVec(fromPos.T(), gq)
		b.MulVec(fromVel.T(), gv)
		for i := range dst {
			dst[i] = a.AtVec(i) + b.AtVec(i)
		}
	}
	chain(out.Position, posPos, posVel)
	chain(out.Velocity, velPos, velVel)
	chain(out.Torque, forcePos, forceVel)
	return out, nil
}
