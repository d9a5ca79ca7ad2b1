// Package analysis characterizes recorded rollouts.
//
//   - [LyapunovSpectrum]: exponents of the step map from its analytic Jacobians
//   - [LyapunovExponent]: largest exponent by trajectory separation
//   - [NewPhasePortrait] and [NewPoincareSection]: phase space views of one dof
//   - [Spectrum] and [DominantFrequency]: frequency content of a series
//   - [Sweep]: final state of one dof across a parameter range
//
// The spectrum doubles as a consistency check on the Jacobians: its sum must
// match the mean log-determinant of the step map.
//
//	res, _ := sim.New(w, stepper).Run(ctx, sim.Config{Steps: 500, Backprop: true})
//	exps, _ := analysis.LyapunovSpectrum(w, res.Snapshots)
package analysis
