// Package controllers computes joint torques from the pre-step state.
//
// A rollout with a controller asks it for the full torque vector before every
// step. Trajectory gradients treat those torques as open-loop inputs: they
// report d(loss)/d(torque) per step, not the derivative through the feedback
// law.
package controllers

import "github.com/san-kum/diffdyn/internal/dynamo"

type Controller interface {
	Compute(s dynamo.Sample) ([]float64, error)
	Reset()
}
