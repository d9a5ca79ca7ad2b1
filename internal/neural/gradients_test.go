package neural_test

import (
	"github.com/go-gl/mathgl/mgl64"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/neural"
	"gonum.org/v1/gonum/mat"
)

var contactScenarios = []TableEntry{
	Entry("ball on plane", "ball_on_plane"),
	Entry("sliding puck", "sliding_puck"),
	Entry("crossed bars", "crossed_bars"),
	Entry("tongs", "tongs"),
	Entry("pincer", "pincer"),
	Entry("pendulum on its limit", "pendulum_limit"),
}

var _ = Describe("constraint gradients", func() {
	DescribeTable("Jacobians match brute force",
		func(name string) {
			w := buildWorld(name)
			snap := step(w)
			Expect(snap.NumActiveConstraints()).To(BeNumerically(">", 0))

			for _, c := range activeRows(snap) {
				got := c.WorldContactPositionJacobian(w)
				want, err := c.BruteForceContactPositionJacobian(w)
				Expect(err).NotTo(HaveOccurred())
				expectMatrixClose(got, want, "contact position")

				got = c.WorldContactForceDirectionJacobian(w)
				want, err = c.BruteForceContactForceDirectionJacobian(w)
				Expect(err).NotTo(HaveOccurred())
				expectMatrixClose(got, want, "force direction")

				got = c.WorldContactForceJacobian(w)
				want, err = c.BruteForceContactForceJacobian(w)
				Expect(err).NotTo(HaveOccurred())
				expectMatrixClose(got, want, "contact force")

				got = c.ConstraintForcesJacobian(w)
				want, err = c.BruteForceConstraintForcesJacobian(w)
				Expect(err).NotTo(HaveOccurred())
				expectMatrixClose(got, want, "constraint forces")
			}
		},
		contactScenarios,
	)

	DescribeTable("per-dof gradients match perturbed geometry",
		func(name string) {
			w := buildWorld(name)
			snap := step(w)
			const eps = neural.BruteForceEpsilon

			for _, c := range activeRows(snap) {
				for _, d := range w.Dofs() {
					skel, idx := d.Skeleton(), d.IndexInSkeleton()

					plus, err := c.BruteForcePerturbedContactPosition(w, skel, idx, eps)
					Expect(err).NotTo(HaveOccurred())
					minus, err := c.BruteForcePerturbedContactPosition(w, skel, idx, -eps)
					Expect(err).NotTo(HaveOccurred())
					fd := plus.Sub(minus).Mul(1 / (2 * eps))
					Expect(c.ContactPositionGradient(d).ApproxEqualThreshold(fd, 1e-5)).To(BeTrue(), "position gradient wrt %s", d.Name())
					Expect(c.EstimatePerturbedContactPosition(skel, idx, eps).ApproxEqualThreshold(plus, 1e-9)).To(BeTrue(), "position estimate wrt %s", d.Name())

					plus, err = c.BruteForcePerturbedContactNormal(w, skel, idx, eps)
					Expect(err).NotTo(HaveOccurred())
					minus, err = c.BruteForcePerturbedContactNormal(w, skel, idx, -eps)
					Expect(err).NotTo(HaveOccurred())
					fd = plus.Sub(minus).Mul(1 / (2 * eps))
					Expect(c.ContactNormalGradient(d).ApproxEqualThreshold(fd, 1e-5)).To(BeTrue(), "normal gradient wrt %s", d.Name())
					Expect(c.EstimatePerturbedContactNormal(skel, idx, eps).ApproxEqualThreshold(plus, 1e-9)).To(BeTrue(), "normal estimate wrt %s", d.Name())

					plus, err = c.BruteForcePerturbedContactForceDirection(w, skel, idx, eps)
					Expect(err).NotTo(HaveOccurred())
					Expect(c.EstimatePerturbedContactForceDirection(skel, idx, eps).ApproxEqualThreshold(plus, 1e-9)).To(BeTrue(), "force direction estimate wrt %s", d.Name())
				}
			}
		},
		contactScenarios,
	)

	It("differentiates edges and screw axes", func() {
		w := buildWorld("crossed_bars")
		snap := step(w)
		Expect(snap.ClampingConstraints()).To(HaveLen(1))
		c := snap.ClampingConstraints()[0]
		const eps = neural.BruteForceEpsilon

		for _, d := range w.Dofs() {
			skel, idx := d.Skeleton(), d.IndexInSkeleton()
			plus, err := c.BruteForceEdges(w, skel, idx, eps)
			Expect(err).NotTo(HaveOccurred())
			minus, err := c.BruteForceEdges(w, skel, idx, -eps)
			Expect(err).NotTo(HaveOccurred())

			g := c.EdgeGradient(d)
			fd := func(a, b mgl64.Vec3) mgl64.Vec3 { return a.Sub(b).Mul(1 / (2 * eps)) }
			Expect(g.EdgeAPos.ApproxEqualThreshold(fd(plus.EdgeAPos, minus.EdgeAPos), 1e-5)).To(BeTrue(), "edge A pos wrt %s", d.Name())
			Expect(g.EdgeADir.ApproxEqualThreshold(fd(plus.EdgeADir, minus.EdgeADir), 1e-5)).To(BeTrue(), "edge A dir wrt %s", d.Name())
			Expect(g.EdgeBPos.ApproxEqualThreshold(fd(plus.EdgeBPos, minus.EdgeBPos), 1e-5)).To(BeTrue(), "edge B pos wrt %s", d.Name())
			Expect(g.EdgeBDir.ApproxEqualThreshold(fd(plus.EdgeBDir, minus.EdgeBDir), 1e-5)).To(BeTrue(), "edge B dir wrt %s", d.Name())

			est := c.EstimatePerturbedEdges(skel, idx, eps)
			Expect(est.EdgeAPos.ApproxEqualThreshold(plus.EdgeAPos, 1e-9)).To(BeTrue())
			Expect(est.EdgeBDir.ApproxEqualThreshold(plus.EdgeBDir, 1e-9)).To(BeTrue())
		}

		for _, axis := range w.Dofs() {
			for _, rotate := range w.Dofs() {
				if axis.Skeleton() != rotate.Skeleton() {
					continue
				}
				plus := c.BruteForceScrewAxis(axis, rotate, eps)
				minus := c.BruteForceScrewAxis(axis, rotate, -eps)
				got := c.ScrewAxisGradient(axis, rotate)
				for k := 0; k < 6; k++ {
					Expect(got[k]).To(BeNumerically("~", (plus[k]-minus[k])/(2*eps), 1e-5), "screw %s wrt %s", axis.Name(), rotate.Name())
				}
				est := c.EstimatePerturbedScrewAxis(axis, rotate, eps)
				for k := 0; k < 6; k++ {
					Expect(est[k]).To(BeNumerically("~", plus[k], 1e-9))
				}
			}
		}
	})

	It("keeps the blocks of an uninvolved skeleton at zero", func() {
		w := buildWorld("ball_on_plane")
		Expect(w.AddSkeleton(buildWorld("pendulum_limit").Skeleton("pendulum"))).To(Succeed())
		snap := step(w)

		ball, pend := w.Skeleton("ball"), w.Skeleton("pendulum")
		expectZero := func(m *mat.Dense, rows, cols int) {
			r, cc := m.Dims()
			Expect([]int{r, cc}).To(Equal([]int{rows, cols}))
			for i := 0; i < r; i++ {
				for j := 0; j < cc; j++ {
					Expect(m.At(i, j)).To(BeZero())
				}
			}
		}

		contacts := 0
		for _, c := range snap.ClampingConstraints() {
			if c.Constraint().Kind != neural.ContactKind {
				continue
			}
			contacts++
			expectZero(c.ConstraintForcesJacobianOf(pend, ball), 1, 6)
			expectZero(c.ConstraintForcesJacobianOf(ball, pend), 6, 1)
			expectZero(c.ConstraintForcesJacobianOf(pend, pend), 1, 1)

			full := c.ConstraintForcesJacobian(w)
			block := c.ConstraintForcesJacobianFor([]*dynamics.Skeleton{ball}, []*dynamics.Skeleton{ball})
			off := w.DofOffset(ball)
			for i := 0; i < ball.NumDofs(); i++ {
				for j := 0; j < ball.NumDofs(); j++ {
					Expect(block.At(i, j)).To(Equal(full.At(off+i, off+j)))
				}
			}
		}
		Expect(contacts).To(Equal(1))
	})
})
