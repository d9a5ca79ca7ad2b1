package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/diffdyn/internal/dynamo"
)

func TestEnergyMean(t *testing.T) {
	m := NewEnergy()

	m.Observe(dynamo.Sample{KineticEnergy: 1, PotentialEnergy: 2})
	m.Observe(dynamo.Sample{KineticEnergy: 3, PotentialEnergy: 0})

	if math.Abs(m.Value()-3) > 1e-12 {
		t.Errorf("expected mean energy 3, got %f", m.Value())
	}
}

func TestEnergyReset(t *testing.T) {
	m := NewEnergy()

	m.Observe(dynamo.Sample{KineticEnergy: 1})
	if m.Value() == 0 {
		t.Error("expected non-zero energy")
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero energy after reset")
	}
}

func TestEnergyDrift(t *testing.T) {
	m := NewEnergyDrift()
	for _, e := range []float64{10, 9, 11.5, 10} {
		m.Observe(dynamo.Sample{KineticEnergy: e})
	}
	if math.Abs(m.Value()-0.15) > 1e-12 {
		t.Errorf("expected drift 0.15, got %f", m.Value())
	}

	m.Reset()
	m.Observe(dynamo.Sample{})
	if m.Value() != 0 {
		t.Error("zero initial energy should not report drift")
	}
}

func TestContactMetrics(t *testing.T) {
	samples := []dynamo.Sample{
		{Clamping: 1, MaxImpulse: 0.1, MaxPenetration: 0.002},
		{Clamping: 2, UpperBound: 1, MaxImpulse: 0.3},
		{},
	}

	tests := []struct {
		metric dynamo.Metric
		want   float64
	}{
		{NewActiveConstraints(), 4.0 / 3},
		{NewMaxImpulse(), 0.3},
		{NewMaxPenetration(), 0.002},
	}
	for _, tt := range tests {
		t.Run(tt.metric.Name(), func(t *testing.T) {
			for _, s := range samples {
				tt.metric.Observe(s)
			}
			if math.Abs(tt.metric.Value()-tt.want) > 1e-12 {
				t.Errorf("expected %f, got %f", tt.want, tt.metric.Value())
			}
			tt.metric.Reset()
			if tt.metric.Value() != 0 {
				t.Error("expected zero after reset")
			}
		})
	}
}

func TestStabilityAndEffort(t *testing.T) {
	s := NewStability(1)
	s.Observe(dynamo.Sample{Velocities: dynamo.Vector{0.5, -0.5}})
	s.Observe(dynamo.Sample{Velocities: dynamo.Vector{2}})
	s.Observe(dynamo.Sample{Velocities: dynamo.Vector{math.NaN()}})
	if math.Abs(s.Value()-1.0/3) > 1e-12 {
		t.Errorf("expected stability 1/3, got %f", s.Value())
	}

	c := NewControlEffort()
	c.Observe(dynamo.Sample{Forces: dynamo.Vector{2, -2}})
	c.Observe(dynamo.Sample{Forces: dynamo.Vector{0, 0}})
	if c.Value() != 2 {
		t.Errorf("expected effort 2, got %f", c.Value())
	}

	p := NewPeakTorque()
	p.Observe(dynamo.Sample{Forces: dynamo.Vector{1, -3}})
	p.Observe(dynamo.Sample{Forces: dynamo.Vector{2}})
	if p.Value() != 3 {
		t.Errorf("expected peak torque 3, got %f", p.Value())
	}
	s.Reset()
	s.Observe(dynamo.Sample{Positions: dynamo.Vector{math.Inf(1)}, Velocities: dynamo.Vector{0}})
	if s.Value() != 0 {
		t.Errorf("expected an infinite position to count as unstable, got %f", s.Value())
	}
}

func TestDefaultNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Default() {
		if seen[m.Name()] {
			t.Errorf("duplicate metric %s", m.Name())
		}
		seen[m.Name()] = true
	}
}
