package dynamo

import (
	"fmt"
	"math"
)

type Vector []float64

func (v Vector) Clone() Vector {
	c := make(Vector, len(v))
	copy(c, v)
	return c
}

func (v Vector) IsValid() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func (v Vector) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

func (v Vector) MaxAbs() float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

func (v Vector) Dot(other Vector) float64 {
	sum := 0.0
	for i := range v {
		if i < len(other) {
			sum += v[i] * other[i]
		}
	}
	return sum
}

func (v Vector) Add(other Vector) Vector {
	result := make(Vector, len(v))
	for i := range v {
		if i < len(other) {
			result[i] = v[i] + other[i]
		} else {
			result[i] = v[i]
		}
	}
	return result
}

func (v Vector) Sub(other Vector) Vector {
	result := make(Vector, len(v))
	for i := range v {
		if i < len(other) {
			result[i] = v[i] - other[i]
		} else {
			result[i] = v[i]
		}
	}
	return result
}

func (v Vector) Scale(factor float64) Vector {
	result := make(Vector, len(v))
	for i := range v {
		result[i] = v[i] * factor
	}
	return result
}

// CheckLen returns ErrDimensionMismatch unless len(v) == n.
func (v Vector) CheckLen(n int) error {
	if len(v) != n {
		return fmt.Errorf("%w: got %d values, want %d", ErrDimensionMismatch, len(v), n)
	}
	return nil
}

// Sample is what a rollout reports after each step.
type Sample struct {
	Step            int
	Time            float64
	Positions       Vector
	Velocities      Vector
	Forces          Vector
	KineticEnergy   float64
	PotentialEnergy float64
	Contacts        int
	Clamping        int
	UpperBound      int
	MaxImpulse      float64
	MaxPenetration  float64
}

type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(s Sample)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(s Sample)

func (f ObserverFunc) OnStep(s Sample) { f(s) }
