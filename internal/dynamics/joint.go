package dynamics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/spatial"
)

type JointType int

const (
	WeldJoint JointType = iota
	RevoluteJoint
	PrismaticJoint
	TranslationalJoint
	PlanarJoint
	FreeJoint
	ScrewJoint
)

func (t JointType) String() string {
	switch t {
	case WeldJoint:
		return "weld"
	case RevoluteJoint:
		return "revolute"
	case PrismaticJoint:
		return "prismatic"
	case TranslationalJoint:
		return "translational"
	case PlanarJoint:
		return "planar"
	case FreeJoint:
		return "free"
	case ScrewJoint:
		return "screw"
	default:
		return "unknown"
	}
}

// JointSpec describes a joint before it is attached to a skeleton. Offset
// places the joint frame in the parent body frame (or the world for roots).
// Axes are expressed in the child frame, applied left to right.
type JointSpec struct {
	Name   string
	Type   JointType
	Offset spatial.Isometry
	Axes   []spatial.Vec6
	Lower  []float64
	Upper  []float64
}

func RevoluteAxis(axis mgl64.Vec3) spatial.Vec6 {
	return spatial.NewVec6(axis.Normalize(), mgl64.Vec3{})
}

func PrismaticAxis(dir mgl64.Vec3) spatial.Vec6 {
	return spatial.NewVec6(mgl64.Vec3{}, dir.Normalize())
}

func Weld(name string, offset spatial.Isometry) JointSpec {
	return JointSpec{Name: name, Type: WeldJoint, Offset: offset}
}

func Revolute(name string, offset spatial.Isometry, axis mgl64.Vec3) JointSpec {
	return JointSpec{Name: name, Type: RevoluteJoint, Offset: offset, Axes: []spatial.Vec6{RevoluteAxis(axis)}}
}

func Prismatic(name string, offset spatial.Isometry, dir mgl64.Vec3) JointSpec {
	return JointSpec{Name: name, Type: PrismaticJoint, Offset: offset, Axes: []spatial.Vec6{PrismaticAxis(dir)}}
}

func Translational(name string, offset spatial.Isometry) JointSpec {
	return JointSpec{
		Name:   name,
		Type:   TranslationalJoint,
		Offset: offset,
		Axes: []spatial.Vec6{
			PrismaticAxis(mgl64.Vec3{1, 0, 0}),
			PrismaticAxis(mgl64.Vec3{0, 1, 0}),
			PrismaticAxis(mgl64.Vec3{0, 0, 1}),
		},
	}
}

// Planar moves in the joint's xy plane and turns about its z axis.
func Planar(name string, offset spatial.Isometry) JointSpec {
	return JointSpec{
		Name:   name,
		Type:   PlanarJoint,
		Offset: offset,
		Axes: []spatial.Vec6{
			PrismaticAxis(mgl64.Vec3{1, 0, 0}),
			PrismaticAxis(mgl64.Vec3{0, 1, 0}),
			RevoluteAxis(mgl64.Vec3{0, 0, 1}),
		},
	}
}

// Free translates along x, y, z and then rotates about x, y, z of the
// translated frame.
func Free(name string, offset spatial.Isometry) JointSpec {
	return JointSpec{
		Name:   name,
		Type:   FreeJoint,
		Offset: offset,
		Axes: []spatial.Vec6{
			PrismaticAxis(mgl64.Vec3{1, 0, 0}),
			PrismaticAxis(mgl64.Vec3{0, 1, 0}),
			PrismaticAxis(mgl64.Vec3{0, 0, 1}),
			RevoluteAxis(mgl64.Vec3{1, 0, 0}),
			RevoluteAxis(mgl64.Vec3{0, 1, 0}),
			RevoluteAxis(mgl64.Vec3{0, 0, 1}),
		},
	}
}

func Screw(name string, offset spatial.Isometry, axes ...spatial.Vec6) JointSpec {
	return JointSpec{Name: name, Type: ScrewJoint, Offset: offset, Axes: axes}
}

// WithLimits sets position limits on every dof of the joint.
func (j JointSpec) WithLimits(lower, upper float64) JointSpec {
	j.Lower = make([]float64, len(j.Axes))
	j.Upper = make([]float64, len(j.Axes))
	for i := range j.Axes {
		j.Lower[i] = lower
		j.Upper[i] = upper
	}
	return j
}

// Joint connects a body to its parent and owns a contiguous run of dofs.
type Joint struct {
	name     string
	kind     JointType
	offset   spatial.Isometry
	axes     []spatial.Vec6
	skel     *Skeleton
	child    int
	dofStart int
}

func (j *Joint) Name() string                 { return j.name }
func (j *Joint) Type() JointType              { return j.kind }
func (j *Joint) NumDofs() int                 { return len(j.axes) }
func (j *Joint) Skeleton() *Skeleton          { return j.skel }
func (j *Joint) ChildBodyNode() *BodyNode     { return j.skel.bodies[j.child] }
func (j *Joint) Offset() spatial.Isometry     { return j.offset }
func (j *Joint) LocalAxis(i int) spatial.Vec6 { return j.axes[i] }

func (j *Joint) Dof(i int) *Dof {
	return j.skel.dofs[j.dofStart+i]
}

// ParentBodyNode returns nil for a joint attached to the world.
func (j *Joint) ParentBodyNode() *BodyNode {
	return j.ChildBodyNode().Parent()
}

// Transform maps child-frame coordinates to parent-frame coordinates at the
// current dof positions.
func (j *Joint) Transform() spatial.Isometry {
	t := j.offset
	for i, s := range j.axes {
		t = t.Mul(spatial.ExpMap(s.Scale(j.Dof(i).position)))
	}
	return t
}

// RelativeJacobian returns, for each dof of the joint, the child body twist
// per unit dof velocity in the child frame.
func (j *Joint) RelativeJacobian() []spatial.Vec6 {
	n := len(j.axes)
	cols := make([]spatial.Vec6, n)
	suffix := spatial.Identity()
	for k := n - 1; k >= 0; k-- {
		suffix = spatial.ExpMap(j.axes[k].Scale(j.Dof(k).position)).Mul(suffix)
		cols[k] = spatial.AdInvT(suffix, j.axes[k])
	}
	return cols
}

// Dof is one scalar joint coordinate.
type Dof struct {
	name         string
	skel         *Skeleton
	joint        *Joint
	index        int
	indexInJoint int
	position     float64
	velocity     float64
	force        float64
	lower        float64
	upper        float64
}

func (d *Dof) Name() string             { return d.name }
func (d *Dof) Skeleton() *Skeleton      { return d.skel }
func (d *Dof) Joint() *Joint            { return d.joint }
func (d *Dof) IndexInSkeleton() int     { return d.index }
func (d *Dof) IndexInJoint() int        { return d.indexInJoint }
func (d *Dof) ChildBodyNode() *BodyNode { return d.joint.ChildBodyNode() }
func (d *Dof) TreeIndex() int           { return d.ChildBodyNode().tree }
func (d *Dof) Position() float64        { return d.position }
func (d *Dof) Velocity() float64        { return d.velocity }
func (d *Dof) Force() float64           { return d.force }
func (d *Dof) Lower() float64           { return d.lower }
func (d *Dof) Upper() float64           { return d.upper }

// IndexInTree orders dofs of one kinematic tree so that every ancestor comes
// before its descendants.
func (d *Dof) IndexInTree() int {
	idx := 0
	for _, other := range d.skel.dofs[:d.index] {
		if other.TreeIndex() == d.TreeIndex() {
			idx++
		}
	}
	return idx
}

func (d *Dof) HasLimits() bool {
	return !math.IsInf(d.lower, -1) || !math.IsInf(d.upper, 1)
}

func (d *Dof) SetPosition(q float64) {
	d.position = q
	d.skel.dirty = true
}

func (d *Dof) SetVelocity(v float64) { d.velocity = v }
func (d *Dof) SetForce(f float64)    { d.force = f }

func (d *Dof) SetLimits(lower, upper float64) {
	d.lower = lower
	d.upper = upper
}
