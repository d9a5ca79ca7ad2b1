package neural

import (
	"fmt"

	"github.com/san-kum/diffdyn/internal/collision"
	"github.com/san-kum/diffdyn/internal/dynamics"
)

type ConstraintKind int

const (
	ContactKind ConstraintKind = iota
	JointLimitKind
	OtherKind
)

func (k ConstraintKind) String() string {
	switch k {
	case ContactKind:
		return "contact"
	case JointLimitKind:
		return "joint-limit"
	default:
		return "other"
	}
}

// FrictionDirections is the number of tangent rows added per frictional contact.
const FrictionDirections = 2

// Constraint is one resolved constraint of a time step. Only the fields of its
// Kind are meaningful: contacts carry bodies and geometry, joint limits and
// other constraints act along a fixed combination of dofs.
type Constraint struct {
	Kind ConstraintKind

	BodyA             *dynamics.BodyNode
	BodyB             *dynamics.BodyNode
	Contact           collision.Contact
	Friction          float64
	TangentDirections int

	Dofs    []*dynamics.Dof
	Weights []float64
}

func NewContactConstraint(c collision.Collision) *Constraint {
	if c.BodyA == nil || c.BodyB == nil {
		panic("neural: contact constraint needs both bodies")
	}
	tangents := 0
	if c.Friction > 0 {
		tangents = FrictionDirections
	}
	return &Constraint{
		Kind:              ContactKind,
		BodyA:             c.BodyA,
		BodyB:             c.BodyB,
		Contact:           c.Contact,
		Friction:          c.Friction,
		TangentDirections: tangents,
	}
}

// NewJointLimitConstraint pushes dof in the direction of sign (+1 at the
// lower limit, -1 at the upper).
func NewJointLimitConstraint(dof *dynamics.Dof, sign float64) *Constraint {
	if dof == nil {
		panic("neural: joint limit on nil dof")
	}
	return &Constraint{Kind: JointLimitKind, Dofs: []*dynamics.Dof{dof}, Weights: []float64{sign}}
}

// NewGeneralizedConstraint acts along the weighted sum of the given dofs.
func NewGeneralizedConstraint(dofs []*dynamics.Dof, weights []float64) *Constraint {
	if len(dofs) != len(weights) {
		panic(fmt.Sprintf("neural: %d dofs with %d weights", len(dofs), len(weights)))
	}
	for _, d := range dofs {
		if d == nil {
			panic("neural: nil dof in generalized constraint")
		}
	}
	return &Constraint{Kind: OtherKind, Dofs: dofs, Weights: weights}
}

func (c *Constraint) Rows() int {
	if c.Kind == ContactKind {
		return 1 + c.TangentDirections
	}
	return 1
}

// weight is the generalized force a non-contact constraint applies to dof.
func (c *Constraint) weight(dof *dynamics.Dof) float64 {
	sum := 0.0
	for i, d := range c.Dofs {
		if d == dof {
			sum += c.Weights[i]
		}
	}
	return sum
}

func (c *Constraint) skeletonNames() []string {
	var names []string
	add := func(name string) {
		for _, n := range names {
			if n == name {
				return
			}
		}
		names = append(names, name)
	}
	if c.Kind == ContactKind {
		add(c.BodyA.Skeleton().Name())
		add(c.BodyB.Skeleton().Name())
		return names
	}
	for _, d := range c.Dofs {
		add(d.Skeleton().Name())
	}
	return names
}
