package metrics

import (
	"math"

	"github.com/san-kum/diffdyn/internal/dynamo"
)

// Stability is the fraction of steps whose state is finite with every
// velocity below the threshold.
type Stability struct {
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability { return &Stability{threshold: threshold} }

func (s *Stability) Name() string { return "stability" }

func (s *Stability) Observe(sample dynamo.Sample) {
	s.samples++
	if !sample.Positions.IsValid() || !sample.Velocities.IsValid() || sample.Velocities.MaxAbs() > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1
	}
	return 1 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() { s.violations, s.samples = 0, 0 }

// ControlEffort is the per-step mean of Σ|τ| over the torques each step was
// taken with.
type ControlEffort struct {
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort { return &ControlEffort{} }

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(s dynamo.Sample) {
	for _, tau := range s.Forces {
		c.sum += math.Abs(tau)
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() { c.sum, c.samples = 0, 0 }

// NewPeakTorque tracks the largest |τ| applied to any dof.
func NewPeakTorque() *Peak {
	return &Peak{name: "peak_torque", read: func(s dynamo.Sample) float64 { return s.Forces.MaxAbs() }}
}
