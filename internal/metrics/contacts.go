package metrics

import (
	"math"

	"github.com/san-kum/diffdyn/internal/dynamo"
)

// ActiveConstraints is the mean number of rows carrying an impulse per step.
type ActiveConstraints struct {
	sum     int
	samples int
}

func NewActiveConstraints() *ActiveConstraints { return &ActiveConstraints{} }

func (a *ActiveConstraints) Name() string { return "active_constraints" }

func (a *ActiveConstraints) Observe(s dynamo.Sample) {
	a.sum += s.Clamping + s.UpperBound
	a.samples++
}

func (a *ActiveConstraints) Value() float64 {
	if a.samples == 0 {
		return 0
	}
	return float64(a.sum) / float64(a.samples)
}

func (a *ActiveConstraints) Reset() {
	a.sum = 0
	a.samples = 0
}

// Peak tracks the largest value a sample field reaches.
type Peak struct {
	name string
	read func(dynamo.Sample) float64
	max  float64
}

func NewMaxImpulse() *Peak {
	return &Peak{name: "max_impulse", read: func(s dynamo.Sample) float64 { return s.MaxImpulse }}
}

func NewMaxPenetration() *Peak {
	return &Peak{name: "max_penetration", read: func(s dynamo.Sample) float64 { return s.MaxPenetration }}
}

func (p *Peak) Name() string            { return p.name }
func (p *Peak) Observe(s dynamo.Sample) { p.max = math.Max(p.max, p.read(s)) }
func (p *Peak) Value() float64          { return p.max }
func (p *Peak) Reset()                  { p.max = 0 }

// Default is the metric set attached to every rollout.
func Default() []dynamo.Metric {
	return []dynamo.Metric{
		NewEnergy(),
		NewEnergyDrift(),
		NewKineticEnergy(),
		NewStability(100),
		NewControlEffort(),
		NewActiveConstraints(),
		NewMaxImpulse(),
		NewMaxPenetration(),
		NewPeakTorque(),
	}
}
