package neural_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/diffdyn/internal/collision"
	"github.com/san-kum/diffdyn/internal/lcp"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/simulation"
	"gonum.org/v1/gonum/mat"
)

var _ = Describe("backprop snapshot", func() {
	DescribeTable("Jacobians match finite differences",
		func(name string) {
			w := buildWorld(name)
			snap := step(w)

			type pair struct {
				what     string
				analytic func(*simulation.World) (*mat.Dense, error)
				numeric  func(*simulation.World) (*mat.Dense, error)
			}
			pairs := []pair{
				{"vel-vel", snap.VelVelJacobian, snap.FiniteDifferenceVelVelJacobian},
				{"force-vel", snap.ForceVelJacobian, snap.FiniteDifferenceForceVelJacobian},
				{"pos-vel", snap.PosVelJacobian, snap.FiniteDifferencePosVelJacobian},
				{"pos-pos", snap.PosPosJacobian, func(w *simulation.World) (*mat.Dense, error) {
					return snap.FiniteDifferencePosPosJacobian(w, 1)
				}},
				{"vel-pos", snap.VelPosJacobian, func(w *simulation.World) (*mat.Dense, error) {
					return snap.FiniteDifferenceVelPosJacobian(w, 1)
				}},
			}
			for _, p := range pairs {
				got, err := p.analytic(w)
				Expect(err).NotTo(HaveOccurred(), p.what)
				want, err := p.numeric(w)
				Expect(err).NotTo(HaveOccurred(), p.what)
				expectMatrixClose(got, want, p.what)
			}
		},
		contactScenarios,
	)

	It("leaves the world untouched", func() {
		w := buildWorld("tongs")
		snap := step(w)
		q, v, tau := w.Positions(), w.Velocities(), w.Forces()

		_, err := snap.PosVelJacobian(w)
		Expect(err).NotTo(HaveOccurred())
		_, err = snap.FiniteDifferenceVelVelJacobian(w)
		Expect(err).NotTo(HaveOccurred())

		Expect(w.Positions()).To(Equal(q))
		Expect(w.Velocities()).To(Equal(v))
		Expect(w.Forces()).To(Equal(tau))
		Expect(w.Time()).To(BeZero())
	})

	It("relates position Jacobians to velocity Jacobians by the time step", func() {
		w := buildWorld("crossed_bars")
		snap := step(w)
		dt := snap.TimeStep()

		velVel, err := snap.VelVelJacobian(w)
		Expect(err).NotTo(HaveOccurred())
		velPos, err := snap.VelPosJacobian(w)
		Expect(err).NotTo(HaveOccurred())
		forceVel, err := snap.ForceVelJacobian(w)
		Expect(err).NotTo(HaveOccurred())
		forcePos, err := snap.ForcePosJacobian(w)
		Expect(err).NotTo(HaveOccurred())

		n := snap.NumDofs()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				Expect(velPos.At(i, j)).To(BeNumerically("~", dt*velVel.At(i, j), 1e-12))
				Expect(forcePos.At(i, j)).To(BeNumerically("~", dt*forceVel.At(i, j), 1e-12))
			}
		}
	})

	It("records the step", func() {
		w := buildWorld("sliding_puck")
		q, v := w.Positions(), w.Velocities()

		snap, err := neural.ForwardPass(w, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.PreStepPosition()).To(Equal(q))
		Expect(snap.PreStepVelocity()).To(Equal(v))
		Expect(snap.PostStepPosition()).To(Equal(w.Positions()))
		Expect(snap.PostStepVelocity()).To(Equal(w.Velocities()))
		Expect(w.Steps()).To(Equal(1))
		Expect(w.Time()).To(BeNumerically("~", snap.TimeStep(), 1e-15))

		// normal and lateral friction clamp, sliding friction sits on its bound
		Expect(snap.ClampingConstraints()).To(HaveLen(2))
		Expect(snap.UpperBoundConstraints()).To(HaveLen(1))
		ub := snap.UpperBoundConstraints()[0]
		Expect(ub.IsUpperBound()).To(BeTrue())
		Expect(ub.IndexInConstraint()).To(BeNumerically(">", 0))

		e := snap.BoundMap()
		r, c := e.Dims()
		Expect([]int{r, c}).To(Equal([]int{1, 2}))
		normal := snap.ClampingImpulses()[0]
		Expect(snap.UpperBoundImpulses()[0]).To(BeNumerically("~", e.At(0, 0)*normal, 1e-9))
		Expect(math.Abs(e.At(0, 0))).To(BeNumerically("~", 0.5, 1e-12))

		Expect(w.Velocities()[0]).To(BeNumerically("<", v[0]), "friction slows the puck")
		Expect(w.Velocities()[0]).To(BeNumerically(">", 0), "but cannot stop it in one step")
	})

	It("finds every active row as its own peer", func() {
		for _, name := range []string{"ball_on_plane", "sliding_puck", "tongs"} {
			w := buildWorld(name)
			snap := step(w)
			for _, c := range activeRows(snap) {
				peer, err := c.PeerConstraint(snap)
				Expect(err).NotTo(HaveOccurred())
				Expect(peer).To(BeIdenticalTo(c))
			}
		}

		w := buildWorld("ball_on_plane")
		snap := step(w)
		stale := snap.ClampingConstraints()[0]
		stale.SetOffsetIntoWorld(5, false)
		_, err := stale.PeerConstraint(snap)
		Expect(errors.Is(err, neural.ErrPeerNotFound)).To(BeTrue())
	})
})

var _ = Describe("peer constraints", func() {
	DescribeTable("resolve to the same contact after a dof is perturbed",
		func(name string) {
			w := buildWorld(name)
			snap := step(w)
			rows := activeRows(snap)
			Expect(rows).NotTo(BeEmpty())

			for j := range w.Positions() {
				q := w.Positions()
				q[j] += neural.BruteForceEpsilon
				perturbed := buildWorld(name)
				perturbed.SetPositions(q)
				next := step(perturbed)

				for _, c := range rows {
					peer, err := c.PeerConstraint(next)
					Expect(err).NotTo(HaveOccurred(), "dof %d", j)
					Expect(peer.Constraint().BodyA.Name()).To(Equal(c.Constraint().BodyA.Name()))
					Expect(peer.Constraint().BodyB.Name()).To(Equal(c.Constraint().BodyB.Name()))
					Expect(peer.SkeletonNames()).To(Equal(c.SkeletonNames()))
					Expect(peer.IndexInConstraint()).To(Equal(c.IndexInConstraint()), "dof %d", j)
					Expect(peer.IsUpperBound()).To(Equal(c.IsUpperBound()), "dof %d", j)
				}
			}
		},
		Entry("ball on plane", "ball_on_plane"),
		Entry("sliding puck", "sliding_puck"),
	)

	It("are resolved with the stepper that produced the snapshot", func() {
		w := buildWorld("ball_on_plane")
		q := w.Positions()
		q[1] = 0.005
		w.SetPositions(q)

		Expect(step(w).NumActiveConstraints()).To(BeZero(), "outside the default margin")

		wide := neural.NewStepper()
		wide.Detector.Margin = 0.01
		snap := stepWith(wide, w)
		Expect(snap.ClampingConstraints()).To(HaveLen(1))

		c := snap.ClampingConstraints()[0]
		want, err := c.BruteForceContactPositionJacobian(w)
		Expect(err).NotTo(HaveOccurred())
		expectMatrixClose(c.WorldContactPositionJacobian(w), want, "contact position")

		got, err := snap.VelVelJacobian(w)
		Expect(err).NotTo(HaveOccurred())
		fd, err := snap.FiniteDifferenceVelVelJacobian(w)
		Expect(err).NotTo(HaveOccurred())
		expectMatrixClose(got, fd, "vel-vel")
		Expect(got.At(1, 1)).To(BeNumerically("~", 0, 1e-9), "the contact absorbs vertical velocity")
	})
})

var _ = Describe("ball resting on a plane", func() {
	var (
		w    *simulation.World
		snap *neural.BackpropSnapshot
	)

	BeforeEach(func() {
		w = buildWorld("ball_on_plane")
		snap = step(w)
	})

	It("holds the ball up with exactly its weight", func() {
		Expect(snap.ClampingConstraints()).To(HaveLen(1))
		Expect(snap.UpperBoundConstraints()).To(BeEmpty())

		forces := snap.WorldConstraintForces()
		Expect(forces).To(HaveLen(6))
		for i, f := range forces {
			if i == 1 {
				Expect(f).To(BeNumerically("~", 9.81, 1e-6))
				continue
			}
			Expect(f).To(BeNumerically("~", 0, 1e-9), "dof %d", i)
		}
		Expect(snap.ConstraintForces(w.Skeleton("ground"))).To(BeEmpty())
		Expect(snap.ConstraintForces(w.Skeleton("ball"))).To(Equal(forces))
		Expect(snap.PostStepVelocity()[1]).To(BeNumerically("~", 0, 1e-9))
	})

	It("classifies the ball dofs as the vertex side", func() {
		c := snap.ClampingConstraints()[0]
		ground, ball := w.Skeleton("ground"), w.Skeleton("ball")
		for _, d := range ball.Dofs() {
			Expect(c.DofContactType(d)).To(Equal(neural.DofVertex))
			Expect(c.ForceMultiple(d)).To(Equal(-1.0))
		}
		Expect(c.SkeletonNames()).To(ConsistOf("ground", "ball"))

		Expect(c.ConstraintForces(ground)).To(BeEmpty())
		Expect(c.ContactPositionJacobian(ground).IsEmpty()).To(BeTrue())
		Expect(c.ContactForceJacobian(ground).IsEmpty()).To(BeTrue())
		Expect(c.ConstraintForcesJacobianOf(ground, ball).IsEmpty()).To(BeTrue())

		r, cols := c.ContactPositionJacobian(ball).Dims()
		Expect([]int{r, cols}).To(Equal([]int{3, 6}))
	})
})

var _ = Describe("contact attribution", func() {
	It("splits edge-edge dofs between the two edges with opposite signs", func() {
		w := buildWorld("crossed_bars")
		snap := step(w)
		Expect(snap.ClampingConstraints()).To(HaveLen(1))
		c := snap.ClampingConstraints()[0]

		hinge := w.Skeleton("rail").Dof(0)
		Expect(c.DofContactType(hinge)).To(Equal(neural.DofEdgeB))
		Expect(c.ForceMultiple(hinge)).To(Equal(1.0))
		for _, d := range w.Skeleton("bar").Dofs() {
			Expect(c.DofContactType(d)).To(Equal(neural.DofEdgeA))
			Expect(c.ForceMultiple(d)).To(Equal(-1.0))
		}
	})

	It("keeps pushing crossed edges apart once they penetrate", func() {
		w := buildWorld("crossed_bars")
		q := w.Positions()
		q[2] -= 0.0006
		w.SetPositions(q)

		snap := step(w)
		Expect(snap.ClampingConstraints()).To(HaveLen(1))
		c := snap.ClampingConstraints()[0]
		Expect(c.Contact().Normal.Y()).To(BeNumerically("~", -1, 1e-12))
		Expect(c.Contact().Depth).To(BeNumerically("~", 0.0005, 1e-9))
		Expect(snap.ClampingImpulses()[0]).To(BeNumerically(">", 0))

		// the edges stop approaching: no relative velocity along the row
		dir, v := c.WorldConstraintForces(w), snap.PostStepVelocity()
		rel := 0.0
		for i := range dir {
			rel += dir[i] * v[i]
		}
		Expect(rel).To(BeNumerically("~", 0, 1e-9))
	})

	It("splits a shared hinge between two edges of one skeleton", func() {
		w := buildWorld("pincer")
		snap := step(w)
		Expect(snap.ClampingConstraints()).To(HaveLen(1))
		c := snap.ClampingConstraints()[0]
		Expect(c.ContactType()).To(Equal(collision.EdgeEdge))

		s := w.Skeleton("pincer")
		hinge, left, right := s.Dof(0), s.Dof(1), s.Dof(2)
		Expect(c.DofContactType(hinge)).To(Equal(neural.DofEdgeEdgeSelfCollision))
		Expect(c.DofContactType(left)).To(Equal(neural.DofEdgeB))
		Expect(c.DofContactType(right)).To(Equal(neural.DofEdgeA))

		Expect(c.ForceMultiple(hinge)).To(BeZero())
		Expect(snap.WorldConstraintForces()[0]).To(BeNumerically("~", 0, 1e-12))
		Expect(c.ConstraintForce(left) * snap.ClampingImpulses()[0]).To(BeNumerically("<", 0))
		Expect(c.ConstraintForce(right) * snap.ClampingImpulses()[0]).To(BeNumerically(">", 0))
	})

	It("cancels the force on a dof shared by both sides", func() {
		w := buildWorld("tongs")
		snap := step(w)
		Expect(snap.ClampingConstraints()).To(HaveLen(1))
		c := snap.ClampingConstraints()[0]

		s := w.Skeleton("tongs")
		hinge, left, right := s.Dof(0), s.Dof(1), s.Dof(2)
		Expect(c.DofContactType(hinge)).To(Equal(neural.DofVertexFaceSelfCollision))
		Expect(c.DofContactType(left)).To(Equal(neural.DofVertex))
		Expect(c.DofContactType(right)).To(Equal(neural.DofFace))

		Expect(c.ForceMultiple(hinge)).To(BeZero())
		Expect(c.ConstraintForce(hinge)).To(BeZero())
		Expect(c.ConstraintForce(left)).NotTo(BeZero())
		Expect(c.ConstraintForce(right)).NotTo(BeZero())
		Expect(snap.WorldConstraintForces()[0]).To(BeZero())

		// the fingers are pushed apart
		Expect(c.ConstraintForce(left) * snap.ClampingImpulses()[0]).To(BeNumerically("<", 0))
		Expect(c.ConstraintForce(right) * snap.ClampingImpulses()[0]).To(BeNumerically(">", 0))
	})

	It("treats joint limits as inert geometry", func() {
		w := buildWorld("pendulum_limit")
		snap := step(w)
		Expect(snap.ClampingConstraints()).To(HaveLen(1))
		c := snap.ClampingConstraints()[0]
		d := w.Dof(0)

		Expect(c.Constraint().Kind).To(Equal(neural.JointLimitKind))
		Expect(c.ConstraintForce(d)).To(Equal(1.0))
		Expect(c.ForceMultiple(d)).To(Equal(1.0))
		Expect(c.DofContactType(d)).To(Equal(neural.DofUnsupported))
		Expect(c.ContactPositionGradient(d)).To(BeZero())
		Expect(c.ContactNormalGradient(d)).To(BeZero())
		Expect(c.WorldForce()).To(BeZero())
		Expect(c.ConstraintForceDerivative(d, d)).To(BeZero())
		Expect(snap.ClampingImpulses()[0]).To(BeNumerically(">", 0))
		Expect(snap.PostStepVelocity()[0]).To(BeNumerically("~", 0, 1e-9))
	})
})

type failingSolver struct{}

func (failingSolver) Solve(*lcp.Problem) ([]float64, error) {
	return nil, lcp.ErrNotConverged
}

var _ = Describe("forward pass failures", func() {
	It("wraps a failed impulse solve with the step", func() {
		w := buildWorld("ball_on_plane")
		q := w.Positions()

		stepper := neural.NewStepper()
		stepper.Solver = failingSolver{}
		snap, err := stepper.ForwardPass(w, true)
		Expect(snap).To(BeNil())

		var stepErr *neural.StepError
		Expect(errors.As(err, &stepErr)).To(BeTrue())
		Expect(stepErr.Step).To(BeZero())
		Expect(errors.Is(err, neural.ErrLCPFailed)).To(BeTrue())
		Expect(errors.Is(err, lcp.ErrNotConverged)).To(BeTrue())
		Expect(err.Error()).To(HavePrefix("step 0 (t=0.0000): "))

		Expect(w.Positions()).To(Equal(q))
		Expect(w.Steps()).To(BeZero())
	})

	It("skips the solve when nothing touches", func() {
		w := buildWorld("ball_on_plane")
		q := w.Positions()
		q[1] = 2
		w.SetPositions(q)

		stepper := neural.NewStepper()
		stepper.Solver = failingSolver{}
		snap, err := stepper.ForwardPass(w, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.NumActiveConstraints()).To(BeZero())
		Expect(snap.BoundMap().IsEmpty()).To(BeTrue())
		Expect(w.Velocities()[1]).To(BeNumerically("~", -9.81*snap.TimeStep(), 1e-12))
	})
})
