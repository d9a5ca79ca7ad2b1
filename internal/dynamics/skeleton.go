package dynamics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/spatial"
)

// BodyProps are the inertial properties of a body, expressed in its own frame.
type BodyProps struct {
	Name    string
	Mass    float64
	Inertia mgl64.Mat3
	COM     mgl64.Vec3
	Shape   *Shape
}

// SphereInertia is the inertia of a solid sphere about its center.
func SphereInertia(mass, radius float64) mgl64.Mat3 {
	i := 0.4 * mass * radius * radius
	return mgl64.Diag3(mgl64.Vec3{i, i, i})
}

// BoxInertia is the inertia of a solid box with the given full extents.
func BoxInertia(mass float64, size mgl64.Vec3) mgl64.Mat3 {
	x2, y2, z2 := size[0]*size[0], size[1]*size[1], size[2]*size[2]
	return mgl64.Diag3(mgl64.Vec3{
		mass * (y2 + z2) / 12,
		mass * (x2 + z2) / 12,
		mass * (x2 + y2) / 12,
	})
}

// RodInertia is the inertia of a thin rod of given length along axis.
func RodInertia(mass, length float64, axis int) mgl64.Mat3 {
	i := mass * length * length / 12
	d := mgl64.Vec3{i, i, i}
	d[axis] = i * 1e-3
	return mgl64.Diag3(d)
}

type BodyNode struct {
	name    string
	skel    *Skeleton
	index   int
	parent  int
	tree    int
	mass    float64
	inertia mgl64.Mat3
	com     mgl64.Vec3
	shape   *Shape
}

func (b *BodyNode) Name() string             { return b.name }
func (b *BodyNode) Skeleton() *Skeleton      { return b.skel }
func (b *BodyNode) IndexInSkeleton() int     { return b.index }
func (b *BodyNode) TreeIndex() int           { return b.tree }
func (b *BodyNode) Mass() float64            { return b.mass }
func (b *BodyNode) LocalInertia() mgl64.Mat3 { return b.inertia }
func (b *BodyNode) LocalCOM() mgl64.Vec3     { return b.com }
func (b *BodyNode) Shape() *Shape            { return b.shape }
func (b *BodyNode) ParentJoint() *Joint      { return b.skel.joints[b.index] }

func (b *BodyNode) Parent() *BodyNode {
	if b.parent < 0 {
		return nil
	}
	return b.skel.bodies[b.parent]
}

func (b *BodyNode) WorldTransform() spatial.Isometry {
	b.skel.update()
	return b.skel.transforms[b.index]
}

func (b *BodyNode) WorldCOM() mgl64.Vec3 {
	return b.WorldTransform().TransformPoint(b.com)
}

// Skeleton is an arena of bodies stored in topological order: every body's
// parent has a smaller index, and joints[i] is the parent joint of bodies[i].
type Skeleton struct {
	name   string
	bodies []*BodyNode
	joints []*Joint
	dofs   []*Dof
	trees  int

	// dof indices that move each body, root first
	bodyDofs [][]int
	// dof indices whose motion changes each dof's world screw axis
	dofAncestors [][]int

	dirty      bool
	transforms []spatial.Isometry
	screwAxes  []spatial.Vec6
}

func NewSkeleton(name string) *Skeleton {
	return &Skeleton{name: name, dirty: true}
}

// AddBody attaches a new body to parent (nil starts a new kinematic tree).
func (s *Skeleton) AddBody(parent *BodyNode, joint JointSpec, props BodyProps) *BodyNode {
	if parent != nil && parent.skel != s {
		panic(fmt.Sprintf("dynamics: parent %q does not belong to skeleton %q", parent.name, s.name))
	}

	body := &BodyNode{
		name:    props.Name,
		skel:    s,
		index:   len(s.bodies),
		parent:  -1,
		mass:    props.Mass,
		inertia: props.Inertia,
		com:     props.COM,
		shape:   props.Shape,
	}
	if parent != nil {
		body.parent = parent.index
		body.tree = parent.tree
	} else {
		body.tree = s.trees
		s.trees++
	}

	j := &Joint{
		name:     joint.Name,
		kind:     joint.Type,
		offset:   joint.Offset,
		axes:     append([]spatial.Vec6(nil), joint.Axes...),
		skel:     s,
		child:    body.index,
		dofStart: len(s.dofs),
	}

	var chain []int
	if parent != nil {
		chain = append(chain, s.bodyDofs[parent.index]...)
	}
	for i := range joint.Axes {
		dof := &Dof{
			name:         fmt.Sprintf("%s_%d", joint.Name, i),
			skel:         s,
			joint:        j,
			index:        len(s.dofs),
			indexInJoint: i,
			lower:        math.Inf(-1),
			upper:        math.Inf(1),
		}
		if i < len(joint.Lower) {
			dof.lower = joint.Lower[i]
		}
		if i < len(joint.Upper) {
			dof.upper = joint.Upper[i]
		}
		s.dofAncestors = append(s.dofAncestors, append([]int(nil), chain...))
		chain = append(chain, dof.index)
		s.dofs = append(s.dofs, dof)
	}

	s.bodies = append(s.bodies, body)
	s.joints = append(s.joints, j)
	s.bodyDofs = append(s.bodyDofs, chain)
	s.dirty = true
	return body
}

func (s *Skeleton) Name() string             { return s.name }
func (s *Skeleton) NumDofs() int             { return len(s.dofs) }
func (s *Skeleton) NumBodyNodes() int        { return len(s.bodies) }
func (s *Skeleton) NumTrees() int            { return s.trees }
func (s *Skeleton) Dof(i int) *Dof           { return s.dofs[i] }
func (s *Skeleton) Dofs() []*Dof             { return s.dofs }
func (s *Skeleton) BodyNode(i int) *BodyNode { return s.bodies[i] }
func (s *Skeleton) BodyNodes() []*BodyNode   { return s.bodies }
func (s *Skeleton) Joint(i int) *Joint       { return s.joints[i] }

func (s *Skeleton) BodyNodeByName(name string) *BodyNode {
	for _, b := range s.bodies {
		if b.name == name {
			return b
		}
	}
	return nil
}

// BodyDofs returns the skeleton indices of every dof that moves body.
func (s *Skeleton) BodyDofs(body *BodyNode) []int {
	return s.bodyDofs[body.index]
}

func (s *Skeleton) Positions() []float64 {
	out := make([]float64, len(s.dofs))
	for i, d := range s.dofs {
		out[i] = d.position
	}
	return out
}

func (s *Skeleton) SetPositions(q []float64) {
	s.checkLen(q)
	for i, d := range s.dofs {
		d.position = q[i]
	}
	s.dirty = true
}

func (s *Skeleton) Velocities() []float64 {
	out := make([]float64, len(s.dofs))
	for i, d := range s.dofs {
		out[i] = d.velocity
	}
	return out
}

func (s *Skeleton) SetVelocities(v []float64) {
	s.checkLen(v)
	for i, d := range s.dofs {
		d.velocity = v[i]
	}
}

func (s *Skeleton) Forces() []float64 {
	out := make([]float64, len(s.dofs))
	for i, d := range s.dofs {
		out[i] = d.force
	}
	return out
}

func (s *Skeleton) SetForces(f []float64) {
	s.checkLen(f)
	for i, d := range s.dofs {
		d.force = f[i]
	}
}

func (s *Skeleton) checkLen(v []float64) {
	if len(v) != len(s.dofs) {
		panic(fmt.Sprintf("dynamics: skeleton %q has %d dofs, got vector of length %d", s.name, len(s.dofs), len(v)))
	}
}

// WorldScrewAxis is the world-frame twist of the dof's child body per unit
// dof velocity.
func (s *Skeleton) WorldScrewAxis(d *Dof) spatial.Vec6 {
	if d == nil || d.skel != s {
		panic("dynamics: dof does not belong to skeleton")
	}
	s.update()
	return s.screwAxes[d.index]
}

// UpdateKinematics brings the cached transforms and screw axes up to date so
// later reads are free of writes and safe to share between goroutines.
func (s *Skeleton) UpdateKinematics() { s.update() }

func (s *Skeleton) update() {
	if !s.dirty {
		return
	}
	n := len(s.bodies)
	if cap(s.transforms) < n {
		s.transforms = make([]spatial.Isometry, n)
	}
	s.transforms = s.transforms[:n]
	if cap(s.screwAxes) < len(s.dofs) {
		s.screwAxes = make([]spatial.Vec6, len(s.dofs))
	}
	s.screwAxes = s.screwAxes[:len(s.dofs)]

	for i, body := range s.bodies {
		parentTf := spatial.Identity()
		if body.parent >= 0 {
			parentTf = s.transforms[body.parent]
		}
		joint := s.joints[i]
		tf := parentTf.Mul(joint.Transform())
		s.transforms[i] = tf
		for k, col := range joint.RelativeJacobian() {
			s.screwAxes[joint.dofStart+k] = spatial.AdT(tf, col)
		}
	}
	s.dirty = false
}
