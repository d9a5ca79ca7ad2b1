package sim

import (
	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/neural"
)

type Config struct {
	Steps int
	// Backprop keeps every step's snapshot so the rollout can be
	// differentiated afterwards.
	Backprop bool

	// MaxSpeed stops the run with dynamo.ErrUnstable once any generalized
	// velocity exceeds it. Zero disables the check.
	MaxSpeed float64
}

type Result struct {
	Times      []float64
	Positions  []dynamo.Vector
	Velocities []dynamo.Vector
	Samples    []dynamo.Sample
	Snapshots  []*neural.BackpropSnapshot
	Metrics    map[string]float64

	StepsTaken  int
	EnergyDrift float64
}

// TrajectoryGradient is the gradient of a loss on the final state with respect
// to the initial state and the torques applied at every step.
type TrajectoryGradient struct {
	Position []float64
	Velocity []float64
	Torques  [][]float64
}
