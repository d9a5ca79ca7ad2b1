package neural

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/simulation"
	"github.com/san-kum/diffdyn/internal/spatial"
	"gonum.org/v1/gonum/mat"
)

// newDense returns an empty matrix when either dimension is zero; gonum does
// not allow zero-sized allocations.
func newDense(r, c int) *mat.Dense {
	if r == 0 || c == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(r, c, nil)
}

func collectDofs(skels []*dynamics.Skeleton) []*dynamics.Dof {
	var out []*dynamics.Dof
	for _, s := range skels {
		out = append(out, s.Dofs()...)
	}
	return out
}

// ConstraintForces is the generalized force per unit impulse on skel's dofs.
func (c *DifferentiableContactConstraint) ConstraintForces(skel *dynamics.Skeleton) []float64 {
	return c.forcesOn(skel.Dofs())
}

// WorldConstraintForces is ConstraintForces over every dof of w.
func (c *DifferentiableContactConstraint) WorldConstraintForces(w *simulation.World) []float64 {
	return c.forcesOn(w.Dofs())
}

func (c *DifferentiableContactConstraint) forcesOn(dofs []*dynamics.Dof) []float64 {
	out := make([]float64, len(dofs))
	for i, d := range dofs {
		out[i] = c.ConstraintForce(d)
	}
	return out
}

func vec3Jacobian(dofs []*dynamics.Dof, grad func(*dynamics.Dof) mgl64.Vec3) *mat.Dense {
	m := newDense(3, len(dofs))
	for j, d := range dofs {
		g := grad(d)
		for i := 0; i < 3; i++ {
			m.Set(i, j, g[i])
		}
	}
	return m
}

func vec6Jacobian(dofs []*dynamics.Dof, grad func(*dynamics.Dof) spatial.Vec6) *mat.Dense {
	m := newDense(6, len(dofs))
	for j, d := range dofs {
		g := grad(d)
		for i := 0; i < 6; i++ {
			m.Set(i, j, g[i])
		}
	}
	return m
}

// ContactPositionJacobian is the 3 x dofs Jacobian of the contact point.
func (c *DifferentiableContactConstraint) ContactPositionJacobian(skel *dynamics.Skeleton) *mat.Dense {
	return vec3Jacobian(skel.Dofs(), c.ContactPositionGradient)
}

func (c *DifferentiableContactConstraint) WorldContactPositionJacobian(w *simulation.World) *mat.Dense {
	return vec3Jacobian(w.Dofs(), c.ContactPositionGradient)
}

func (c *DifferentiableContactConstraint) ContactForceDirectionJacobian(skel *dynamics.Skeleton) *mat.Dense {
	return vec3Jacobian(skel.Dofs(), c.ContactForceGradient)
}

func (c *DifferentiableContactConstraint) WorldContactForceDirectionJacobian(w *simulation.World) *mat.Dense {
	return vec3Jacobian(w.Dofs(), c.ContactForceGradient)
}

// ContactForceJacobian is the 6 x dofs Jacobian of WorldForce.
func (c *DifferentiableContactConstraint) ContactForceJacobian(skel *dynamics.Skeleton) *mat.Dense {
	return vec6Jacobian(skel.Dofs(), c.ContactWorldForceGradient)
}

func (c *DifferentiableContactConstraint) WorldContactForceJacobian(w *simulation.World) *mat.Dense {
	return vec6Jacobian(w.Dofs(), c.ContactWorldForceGradient)
}

// ConstraintForcesJacobian is ∂(WorldConstraintForces)/∂q over the whole world.
func (c *DifferentiableContactConstraint) ConstraintForcesJacobian(w *simulation.World) *mat.Dense {
	return c.ConstraintForcesJacobianAll(w.Skeletons())
}

// ConstraintForcesJacobianOf is the block of rows for skel's dofs and columns
// for wrt's dofs.
func (c *DifferentiableContactConstraint) ConstraintForcesJacobianOf(skel, wrt *dynamics.Skeleton) *mat.Dense {
	return c.ConstraintForcesJacobianFor([]*dynamics.Skeleton{skel}, []*dynamics.Skeleton{wrt})
}

func (c *DifferentiableContactConstraint) ConstraintForcesJacobianAll(skels []*dynamics.Skeleton) *mat.Dense {
	return c.ConstraintForcesJacobianFor(skels, skels)
}

// ConstraintForcesJacobianFor stacks the rows of skels against the columns of
// wrt, each list in the given order.
func (c *DifferentiableContactConstraint) ConstraintForcesJacobianFor(skels, wrt []*dynamics.Skeleton) *mat.Dense {
	rows := collectDofs(skels)
	cols := collectDofs(wrt)
	m := newDense(len(rows), len(cols))
	if len(rows) == 0 || len(cols) == 0 || !c.isContact() {
		return m
	}

	// bring every cached transform up to date so the workers only read
	for _, s := range append(append([]*dynamics.Skeleton{}, skels...), wrt...) {
		s.UpdateKinematics()
	}
	c.constraint.BodyA.Skeleton().UpdateKinematics()
	c.constraint.BodyB.Skeleton().UpdateKinematics()

	dynamo.ParallelFor(len(rows), 4, func(start, end int) {
		for i := start; i < end; i++ {
			for j, wd := range cols {
				m.Set(i, j, c.ConstraintForceDerivative(rows[i], wd))
			}
		}
	})
	return m
}
