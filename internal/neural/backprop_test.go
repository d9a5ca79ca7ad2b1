package neural_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/simulation"
)

// linearLoss is gq·q' + gv·v' of the state after one step from (q, v, tau).
func linearLoss(w *simulation.World, gq, gv, q, v, tau []float64) float64 {
	var loss float64
	err := simulation.Preserve(w, func() error {
		w.SetPositions(q)
		w.SetVelocities(v)
		w.SetForces(tau)
		if _, err := neural.ForwardPass(w, false); err != nil {
			return err
		}
		loss = dynamo.Vector(gq).Dot(w.Positions()) + dynamo.Vector(gv).Dot(w.Velocities())
		return nil
	})
	Expect(err).NotTo(HaveOccurred())
	return loss
}

var _ = Describe("Backprop", func() {
	DescribeTable("matches a finite-difference loss gradient",
		func(name string) {
			w := buildWorld(name)
			snap := step(w)
			n := w.NumDofs()

			next := neural.NewLossGradient(n)
			for i := 0; i < n; i++ {
				next.Position[i] = 0.3 + 0.1*float64(i)
				next.Velocity[i] = 1 - 0.2*float64(i)
			}
			grad, err := snap.Backprop(w, next)
			Expect(err).NotTo(HaveOccurred())

			const eps = 1e-6
			q, v, tau := w.Positions(), w.Velocities(), w.Forces()
			numeric := func(input []float64, j int) float64 {
				orig := input[j]
				input[j] = orig + eps
				plus := linearLoss(w, next.Position, next.Velocity, q, v, tau)
				input[j] = orig - eps
				minus := linearLoss(w, next.Position, next.Velocity, q, v, tau)
				input[j] = orig
				return (plus - minus) / (2 * eps)
			}

			fdPos, fdVel, fdTau := make([]float64, n), make([]float64, n), make([]float64, n)
			for j := 0; j < n; j++ {
				fdPos[j] = numeric(q, j)
				fdVel[j] = numeric(v, j)
				fdTau[j] = numeric(tau, j)
			}
			expectVecClose(grad.Position, fdPos, 1e-4, "position gradient")
			expectVecClose(grad.Velocity, fdVel, 1e-4, "velocity gradient")
			expectVecClose(grad.Torque, fdTau, 1e-4, "torque gradient")
		},
		contactScenarios,
	)

	It("rejects gradients of the wrong size", func() {
		w := buildWorld("ball_on_plane")
		snap := step(w)
		_, err := snap.Backprop(w, neural.NewLossGradient(3))
		Expect(errors.Is(err, dynamo.ErrDimensionMismatch)).To(BeTrue())
	})
})
