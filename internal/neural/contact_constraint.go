package neural

import (
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/collision"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/spatial"
)

// DofContactType says how a dof moves the geometry of one contact.
type DofContactType int

const (
	DofNone DofContactType = iota
	DofVertex
	DofFace
	DofEdgeA
	DofEdgeB
	DofVertexFaceSelfCollision
	DofEdgeEdgeSelfCollision
	DofUnsupported
)

func (t DofContactType) String() string {
	switch t {
	case DofNone:
		return "none"
	case DofVertex:
		return "vertex"
	case DofFace:
		return "face"
	case DofEdgeA:
		return "edge-a"
	case DofEdgeB:
		return "edge-b"
	case DofVertexFaceSelfCollision:
		return "vertex-face-self"
	case DofEdgeEdgeSelfCollision:
		return "edge-edge-self"
	default:
		return "unsupported"
	}
}

// EdgeData holds both edges of an edge-edge contact, or their gradients.
type EdgeData struct {
	EdgeAPos mgl64.Vec3
	EdgeADir mgl64.Vec3
	EdgeBPos mgl64.Vec3
	EdgeBDir mgl64.Vec3
}

// DifferentiableContactConstraint is one scalar row of a resolved constraint:
// the normal of a contact (index 0), one of its tangent directions, or a
// joint limit. It keeps its own copy of the contact geometry so it stays valid
// while the world is perturbed.
type DifferentiableContactConstraint struct {
	constraint      *Constraint
	index           int
	contact         collision.Contact
	skeletons       []string
	offsetIntoWorld int
	isUpperBound    bool
	stepper         *Stepper
}

func NewDifferentiableContactConstraint(c *Constraint, index int) *DifferentiableContactConstraint {
	if c == nil {
		panic("neural: nil constraint")
	}
	if index < 0 || index >= c.Rows() {
		panic(fmt.Sprintf("neural: row index %d out of range for %s constraint with %d rows", index, c.Kind, c.Rows()))
	}
	return &DifferentiableContactConstraint{
		constraint: c,
		index:      index,
		contact:    c.Contact,
		skeletons:  c.skeletonNames(),
	}
}

func (c *DifferentiableContactConstraint) Constraint() *Constraint    { return c.constraint }
func (c *DifferentiableContactConstraint) IndexInConstraint() int     { return c.index }
func (c *DifferentiableContactConstraint) Contact() collision.Contact { return c.contact }
func (c *DifferentiableContactConstraint) SkeletonNames() []string    { return c.skeletons }
func (c *DifferentiableContactConstraint) OffsetIntoWorld() int       { return c.offsetIntoWorld }
func (c *DifferentiableContactConstraint) IsUpperBound() bool         { return c.isUpperBound }

func (c *DifferentiableContactConstraint) SetOffsetIntoWorld(offset int, isUpperBound bool) {
	c.offsetIntoWorld = offset
	c.isUpperBound = isUpperBound
}

func (c *DifferentiableContactConstraint) isContact() bool {
	return c.constraint.Kind == ContactKind
}

func (c *DifferentiableContactConstraint) ContactType() collision.ContactType {
	if !c.isContact() {
		return collision.Unsupported
	}
	return c.contact.Type
}

func (c *DifferentiableContactConstraint) ContactWorldPosition() mgl64.Vec3 {
	if !c.isContact() {
		return mgl64.Vec3{}
	}
	return c.contact.Point
}

func (c *DifferentiableContactConstraint) ContactWorldNormal() mgl64.Vec3 {
	if !c.isContact() {
		return mgl64.Vec3{}
	}
	return c.contact.Normal
}

// ContactWorldForceDirection is the normal for index 0 and a tangent basis
// vector of the normal otherwise.
func (c *DifferentiableContactConstraint) ContactWorldForceDirection() mgl64.Vec3 {
	if !c.isContact() {
		return mgl64.Vec3{}
	}
	return forceDirection(c.index, c.contact.Normal)
}

func forceDirection(index int, normal mgl64.Vec3) mgl64.Vec3 {
	if index == 0 {
		return normal
	}
	t1, t2 := spatial.TangentBasis(normal)
	if index == 1 {
		return t1
	}
	return t2
}

// WorldForce is the unit contact wrench (p × d, d) applied to body A.
func (c *DifferentiableContactConstraint) WorldForce() spatial.Vec6 {
	if !c.isContact() {
		return spatial.Vec6{}
	}
	p := c.ContactWorldPosition()
	d := c.ContactWorldForceDirection()
	return spatial.NewVec6(p.Cross(d), d)
}

func (c *DifferentiableContactConstraint) DofContactType(dof *dynamics.Dof) DofContactType {
	if dof == nil {
		panic("neural: nil dof in contact classification")
	}
	if !c.isContact() {
		return DofUnsupported
	}
	parentA := dynamics.IsAncestorOfBody(dof, c.constraint.BodyA)
	parentB := dynamics.IsAncestorOfBody(dof, c.constraint.BodyB)

	switch {
	case parentA && parentB:
		switch c.contact.Type {
		case collision.FaceVertex, collision.VertexFace:
			return DofVertexFaceSelfCollision
		case collision.EdgeEdge:
			return DofEdgeEdgeSelfCollision
		}
	case parentA:
		switch c.contact.Type {
		case collision.FaceVertex:
			return DofFace
		case collision.VertexFace:
			return DofVertex
		case collision.EdgeEdge:
			return DofEdgeB
		}
	case parentB:
		switch c.contact.Type {
		case collision.FaceVertex:
			return DofVertex
		case collision.VertexFace:
			return DofFace
		case collision.EdgeEdge:
			return DofEdgeA
		}
	default:
		return DofNone
	}
	return DofUnsupported
}

// ForceMultiple is +1 for dofs that move only body A, -1 for dofs that move
// only body B and 0 otherwise. Non-contact constraints always use 1.
func (c *DifferentiableContactConstraint) ForceMultiple(dof *dynamics.Dof) float64 {
	if !c.isContact() {
		return 1
	}
	parentA := dynamics.IsAncestorOfBody(dof, c.constraint.BodyA)
	parentB := dynamics.IsAncestorOfBody(dof, c.constraint.BodyB)
	switch {
	case parentA && !parentB:
		return 1
	case parentB && !parentA:
		return -1
	default:
		return 0
	}
}

// ConstraintForce is the generalized force this row applies to dof per unit
// impulse.
func (c *DifferentiableContactConstraint) ConstraintForce(dof *dynamics.Dof) float64 {
	if !c.isContact() {
		return c.constraint.weight(dof)
	}
	mult := c.ForceMultiple(dof)
	if mult == 0 {
		return 0
	}
	return dof.Skeleton().WorldScrewAxis(dof).Dot(c.WorldForce()) * mult
}

// ConstraintForceDerivative is ∂ConstraintForce(dof)/∂q_wrt.
func (c *DifferentiableContactConstraint) ConstraintForceDerivative(dof, wrt *dynamics.Dof) float64 {
	if !c.isContact() {
		return 0
	}
	mult := c.ForceMultiple(dof)
	if mult == 0 {
		return 0
	}
	screw := dof.Skeleton().WorldScrewAxis(dof)
	dScrew := c.ScrewAxisGradient(dof, wrt)
	return mult * (screw.Dot(c.ContactWorldForceGradient(wrt)) + dScrew.Dot(c.WorldForce()))
}

// ScrewAxisGradient is the change of screwDof's world axis when rotateDof
// moves: the Lie bracket of the two axes, or zero if rotateDof does not carry
// screwDof.
func (c *DifferentiableContactConstraint) ScrewAxisGradient(screwDof, rotateDof *dynamics.Dof) spatial.Vec6 {
	return screwAxisGradient(screwDof, rotateDof)
}

func screwAxisGradient(screwDof, rotateDof *dynamics.Dof) spatial.Vec6 {
	if !dynamics.IsAncestorOfDof(rotateDof, screwDof) {
		return spatial.Vec6{}
	}
	axis := screwDof.Skeleton().WorldScrewAxis(screwDof)
	rotate := rotateDof.Skeleton().WorldScrewAxis(rotateDof)
	return spatial.Ad(rotate, axis)
}

func (c *DifferentiableContactConstraint) Edges() EdgeData {
	if !c.isContact() || c.contact.Type != collision.EdgeEdge {
		return EdgeData{}
	}
	return EdgeData{
		EdgeAPos: c.contact.EdgeAFixedPoint,
		EdgeADir: c.contact.EdgeADir,
		EdgeBPos: c.contact.EdgeBFixedPoint,
		EdgeBDir: c.contact.EdgeBDir,
	}
}

// EdgeGradient differentiates the edges moved by dof; the other edge keeps a
// zero gradient.
func (c *DifferentiableContactConstraint) EdgeGradient(dof *dynamics.Dof) EdgeData {
	t := c.DofContactType(dof)
	if t != DofEdgeA && t != DofEdgeB && t != DofEdgeEdgeSelfCollision {
		return EdgeData{}
	}
	screw := dof.Skeleton().WorldScrewAxis(dof)
	e := c.Edges()
	var g EdgeData
	if t == DofEdgeA || t == DofEdgeEdgeSelfCollision {
		g.EdgeAPos = spatial.GradientWrtTheta(screw, e.EdgeAPos)
		g.EdgeADir = spatial.GradientWrtThetaPureRotation(screw, e.EdgeADir)
	}
	if t == DofEdgeB || t == DofEdgeEdgeSelfCollision {
		g.EdgeBPos = spatial.GradientWrtTheta(screw, e.EdgeBPos)
		g.EdgeBDir = spatial.GradientWrtThetaPureRotation(screw, e.EdgeBDir)
	}
	return g
}

func (c *DifferentiableContactConstraint) ContactPositionGradient(dof *dynamics.Dof) mgl64.Vec3 {
	if !c.isContact() {
		return mgl64.Vec3{}
	}
	t := c.DofContactType(dof)
	switch t {
	case DofNone, DofFace:
		return mgl64.Vec3{}
	case DofVertex, DofVertexFaceSelfCollision, DofEdgeEdgeSelfCollision:
		return spatial.GradientWrtTheta(dof.Skeleton().WorldScrewAxis(dof), c.contact.Point)
	case DofEdgeA, DofEdgeB:
		e := c.Edges()
		g := c.EdgeGradient(dof)
		return spatial.ContactPointGradient(
			e.EdgeAPos, g.EdgeAPos, e.EdgeADir, g.EdgeADir,
			e.EdgeBPos, g.EdgeBPos, e.EdgeBDir, g.EdgeBDir)
	}
	c.warnUnsupported("position gradient", dof, t)
	return mgl64.Vec3{}
}

func (c *DifferentiableContactConstraint) ContactNormalGradient(dof *dynamics.Dof) mgl64.Vec3 {
	if !c.isContact() {
		return mgl64.Vec3{}
	}
	t := c.DofContactType(dof)
	switch t {
	case DofNone, DofVertex:
		return mgl64.Vec3{}
	case DofFace, DofVertexFaceSelfCollision, DofEdgeEdgeSelfCollision:
		return spatial.GradientWrtThetaPureRotation(dof.Skeleton().WorldScrewAxis(dof), c.contact.Normal)
	case DofEdgeA, DofEdgeB:
		e := c.Edges()
		g := c.EdgeGradient(dof)
		return spatial.NormalizedCrossGradient(e.EdgeADir, g.EdgeADir, e.EdgeBDir, g.EdgeBDir).Mul(c.edgeNormalSign())
	}
	c.warnUnsupported("normal gradient", dof, t)
	return mgl64.Vec3{}
}

// ContactForceGradient is the gradient of ContactWorldForceDirection.
func (c *DifferentiableContactConstraint) ContactForceGradient(dof *dynamics.Dof) mgl64.Vec3 {
	dn := c.ContactNormalGradient(dof)
	if c.index == 0 || dn.Dot(dn) <= 1e-12 {
		return dn
	}
	dt1, dt2 := spatial.TangentBasisGradient(c.contact.Normal, dn)
	if c.index == 1 {
		return dt1
	}
	return dt2
}

// ContactWorldForceGradient is the gradient of WorldForce:
// (p × dd + dp × d, dd).
func (c *DifferentiableContactConstraint) ContactWorldForceGradient(dof *dynamics.Dof) spatial.Vec6 {
	if !c.isContact() {
		return spatial.Vec6{}
	}
	p := c.ContactWorldPosition()
	d := c.ContactWorldForceDirection()
	dp := c.ContactPositionGradient(dof)
	dd := c.ContactForceGradient(dof)
	return spatial.NewVec6(p.Cross(dd).Add(dp.Cross(d)), dd)
}

// edgeNormalSign recovers the orientation the detector chose for the
// normalized edge cross product.
func (c *DifferentiableContactConstraint) edgeNormalSign() float64 {
	n := spatial.NormalizedCross(c.contact.EdgeADir, c.contact.EdgeBDir)
	if n.Dot(c.contact.Normal) < 0 {
		return -1
	}
	return 1
}

func (c *DifferentiableContactConstraint) warnUnsupported(what string, dof *dynamics.Dof, t DofContactType) {
	slog.Warn("unsupported contact configuration",
		"quantity", what,
		"dof", dof.Name(),
		"contact", c.contact.Type.String(),
		"classification", t.String(),
	)
}
