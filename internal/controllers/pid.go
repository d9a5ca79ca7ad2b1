package controllers

import (
	"fmt"

	"github.com/san-kum/diffdyn/internal/dynamo"
)

// PID drives the position of one world dof toward Target and leaves every
// other torque as it was.
type PID struct {
	Dof      int
	Kp       float64
	Ki       float64
	Kd       float64
	Target   float64
	integral float64
	prevErr  float64
	prevT    float64
	first    bool
}

func NewPID(dof int, kp, ki, kd, target float64) *PID {
	return &PID{
		Dof:    dof,
		Kp:     kp,
		Ki:     ki,
		Kd:     kd,
		Target: target,
		first:  true,
	}
}

func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.prevT = 0
	p.first = true
}

func (p *PID) Compute(s dynamo.Sample) ([]float64, error) {
	if p.Dof < 0 || p.Dof >= len(s.Positions) || len(s.Forces) != len(s.Positions) {
		return nil, fmt.Errorf("%w: pid dof %d, %d positions, %d forces",
			dynamo.ErrDimensionMismatch, p.Dof, len(s.Positions), len(s.Forces))
	}
	tau := s.Forces.Clone()

	err := p.Target - s.Positions[p.Dof]
	if p.first {
		p.prevErr = err
		p.prevT = s.Time
		p.first = false
		tau[p.Dof] = p.Kp * err
		return tau, nil
	}

	dt := s.Time - p.prevT
	if dt <= 0 {
		tau[p.Dof] = p.Kp * err
		return tau, nil
	}
	p.integral += err * dt
	derivative := (err - p.prevErr) / dt
	p.prevErr = err
	p.prevT = s.Time

	tau[p.Dof] = p.Kp*err + p.Ki*p.integral + p.Kd*derivative
	return tau, nil
}
