package neural

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/simulation"
	"github.com/san-kum/diffdyn/internal/spatial"
	"gonum.org/v1/gonum/mat"
)

const (
	// BruteForceEpsilon perturbs positions for first-derivative checks.
	BruteForceEpsilon = 1e-6
	// ConstraintForcesEpsilon is used for the constraint force Jacobian,
	// whose entries already contain one analytical derivative.
	ConstraintForcesEpsilon = 1e-7
)

// PeerConstraint returns the row of snap occupying this row's slot: same
// list (clamping or upper bound) at the same offset.
func (c *DifferentiableContactConstraint) PeerConstraint(snap *BackpropSnapshot) (*DifferentiableContactConstraint, error) {
	list := snap.ClampingConstraints()
	kind := "clamping"
	if c.isUpperBound {
		list = snap.UpperBoundConstraints()
		kind = "upper-bound"
	}
	if c.offsetIntoWorld < 0 || c.offsetIntoWorld >= len(list) {
		return nil, fmt.Errorf("%w: %s offset %d, snapshot has %d", ErrPeerNotFound, kind, c.offsetIntoWorld, len(list))
	}
	return list[c.offsetIntoWorld], nil
}

// withPerturbedPeer moves one dof by eps, reruns the step with the stepper
// that classified this row and hands the peer row to read with the world back
// at the perturbed pre-step pose.
func (c *DifferentiableContactConstraint) withPerturbedPeer(w *simulation.World, skel *dynamics.Skeleton, dofIndex int, eps float64, read func(peer *DifferentiableContactConstraint)) error {
	return simulation.Preserve(w, func() error {
		dof := skel.Dof(dofIndex)
		dof.SetPosition(dof.Position() + eps)
		perturbed := w.Positions()

		snap, err := stepperOrDefault(c.stepper).ForwardPass(w, true)
		if err != nil {
			return err
		}
		w.SetPositions(perturbed)

		peer, err := c.PeerConstraint(snap)
		if err != nil {
			return err
		}
		read(peer)
		return nil
	})
}

func (c *DifferentiableContactConstraint) BruteForcePerturbedContactPosition(w *simulation.World, skel *dynamics.Skeleton, dofIndex int, eps float64) (mgl64.Vec3, error) {
	var out mgl64.Vec3
	err := c.withPerturbedPeer(w, skel, dofIndex, eps, func(peer *DifferentiableContactConstraint) {
		out = peer.ContactWorldPosition()
	})
	return out, err
}

func (c *DifferentiableContactConstraint) BruteForcePerturbedContactNormal(w *simulation.World, skel *dynamics.Skeleton, dofIndex int, eps float64) (mgl64.Vec3, error) {
	var out mgl64.Vec3
	err := c.withPerturbedPeer(w, skel, dofIndex, eps, func(peer *DifferentiableContactConstraint) {
		out = peer.ContactWorldNormal()
	})
	return out, err
}

func (c *DifferentiableContactConstraint) BruteForcePerturbedContactForceDirection(w *simulation.World, skel *dynamics.Skeleton, dofIndex int, eps float64) (mgl64.Vec3, error) {
	var out mgl64.Vec3
	err := c.withPerturbedPeer(w, skel, dofIndex, eps, func(peer *DifferentiableContactConstraint) {
		out = peer.ContactWorldForceDirection()
	})
	return out, err
}

func (c *DifferentiableContactConstraint) BruteForceEdges(w *simulation.World, skel *dynamics.Skeleton, dofIndex int, eps float64) (EdgeData, error) {
	var out EdgeData
	err := c.withPerturbedPeer(w, skel, dofIndex, eps, func(peer *DifferentiableContactConstraint) {
		out = peer.Edges()
	})
	return out, err
}

// BruteForceScrewAxis reads axis's world screw after moving rotate by eps.
func (c *DifferentiableContactConstraint) BruteForceScrewAxis(axis, rotate *dynamics.Dof, eps float64) spatial.Vec6 {
	orig := rotate.Position()
	defer rotate.SetPosition(orig)
	rotate.SetPosition(orig + eps)
	return axis.Skeleton().WorldScrewAxis(axis)
}

// bruteForceJacobian central-differences read over every dof of w.
func (c *DifferentiableContactConstraint) bruteForceJacobian(w *simulation.World, rows int, eps float64, read func(peer *DifferentiableContactConstraint) []float64) (*mat.Dense, error) {
	dofs := w.Dofs()
	m := newDense(rows, len(dofs))
	for j, d := range dofs {
		var plus, minus []float64
		err := c.withPerturbedPeer(w, d.Skeleton(), d.IndexInSkeleton(), eps, func(peer *DifferentiableContactConstraint) {
			plus = read(peer)
		})
		if err != nil {
			return nil, fmt.Errorf("perturbing %s by %g: %w", d.Name(), eps, err)
		}
		err = c.withPerturbedPeer(w, d.Skeleton(), d.IndexInSkeleton(), -eps, func(peer *DifferentiableContactConstraint) {
			minus = read(peer)
		})
		if err != nil {
			return nil, fmt.Errorf("perturbing %s by %g: %w", d.Name(), -eps, err)
		}
		for i := 0; i < rows; i++ {
			m.Set(i, j, (plus[i]-minus[i])/(2*eps))
		}
	}
	return m, nil
}

func (c *DifferentiableContactConstraint) BruteForceContactPositionJacobian(w *simulation.World) (*mat.Dense, error) {
	return c.bruteForceJacobian(w, 3, BruteForceEpsilon, func(peer *DifferentiableContactConstraint) []float64 {
		p := peer.ContactWorldPosition()
		return p[:]
	})
}

func (c *DifferentiableContactConstraint) BruteForceContactForceDirectionJacobian(w *simulation.World) (*mat.Dense, error) {
	return c.bruteForceJacobian(w, 3, BruteForceEpsilon, func(peer *DifferentiableContactConstraint) []float64 {
		d := peer.ContactWorldForceDirection()
		return d[:]
	})
}

func (c *DifferentiableContactConstraint) BruteForceContactForceJacobian(w *simulation.World) (*mat.Dense, error) {
	return c.bruteForceJacobian(w, 6, BruteForceEpsilon, func(peer *DifferentiableContactConstraint) []float64 {
		f := peer.WorldForce()
		return f[:]
	})
}

func (c *DifferentiableContactConstraint) BruteForceConstraintForcesJacobian(w *simulation.World) (*mat.Dense, error) {
	return c.bruteForceJacobian(w, w.NumDofs(), ConstraintForcesEpsilon, func(peer *DifferentiableContactConstraint) []float64 {
		return peer.WorldConstraintForces(w)
	})
}

func perturbation(dof *dynamics.Dof, eps float64) spatial.Isometry {
	return spatial.ExpMap(dof.Skeleton().WorldScrewAxis(dof).Scale(eps))
}

// EstimatePerturbedEdges moves the edges dof carries rigidly by eps without
// rerunning collision detection.
func (c *DifferentiableContactConstraint) EstimatePerturbedEdges(skel *dynamics.Skeleton, dofIndex int, eps float64) EdgeData {
	dof := skel.Dof(dofIndex)
	e := c.Edges()
	t := c.DofContactType(dof)
	tf := perturbation(dof, eps)
	if t == DofEdgeA || t == DofEdgeEdgeSelfCollision {
		e.EdgeAPos = tf.TransformPoint(e.EdgeAPos)
		e.EdgeADir = tf.Rotate(e.EdgeADir)
	}
	if t == DofEdgeB || t == DofEdgeEdgeSelfCollision {
		e.EdgeBPos = tf.TransformPoint(e.EdgeBPos)
		e.EdgeBDir = tf.Rotate(e.EdgeBDir)
	}
	return e
}

func (c *DifferentiableContactConstraint) EstimatePerturbedContactPosition(skel *dynamics.Skeleton, dofIndex int, eps float64) mgl64.Vec3 {
	dof := skel.Dof(dofIndex)
	switch c.DofContactType(dof) {
	case DofVertex, DofVertexFaceSelfCollision, DofEdgeEdgeSelfCollision:
		return perturbation(dof, eps).TransformPoint(c.contact.Point)
	case DofEdgeA, DofEdgeB:
		e := c.EstimatePerturbedEdges(skel, dofIndex, eps)
		return spatial.ContactPoint(e.EdgeAPos, e.EdgeADir, e.EdgeBPos, e.EdgeBDir)
	}
	return c.ContactWorldPosition()
}

func (c *DifferentiableContactConstraint) EstimatePerturbedContactNormal(skel *dynamics.Skeleton, dofIndex int, eps float64) mgl64.Vec3 {
	dof := skel.Dof(dofIndex)
	switch c.DofContactType(dof) {
	case DofFace, DofVertexFaceSelfCollision, DofEdgeEdgeSelfCollision:
		return perturbation(dof, eps).Rotate(c.contact.Normal)
	case DofEdgeA, DofEdgeB:
		e := c.EstimatePerturbedEdges(skel, dofIndex, eps)
		return spatial.NormalizedCross(e.EdgeADir, e.EdgeBDir).Mul(c.edgeNormalSign())
	}
	return c.ContactWorldNormal()
}

func (c *DifferentiableContactConstraint) EstimatePerturbedContactForceDirection(skel *dynamics.Skeleton, dofIndex int, eps float64) mgl64.Vec3 {
	if !c.isContact() {
		return mgl64.Vec3{}
	}
	return forceDirection(c.index, c.EstimatePerturbedContactNormal(skel, dofIndex, eps))
}

// EstimatePerturbedScrewAxis rotates axis's world screw by the motion of
// rotate when rotate carries it.
func (c *DifferentiableContactConstraint) EstimatePerturbedScrewAxis(axis, rotate *dynamics.Dof, eps float64) spatial.Vec6 {
	s := axis.Skeleton().WorldScrewAxis(axis)
	if !dynamics.IsAncestorOfDof(rotate, axis) {
		return s
	}
	return spatial.AdT(perturbation(rotate, eps), s)
}
