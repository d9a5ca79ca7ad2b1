package collision

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/dynamics"
)

type ContactType int

const (
	FaceVertex ContactType = iota
	VertexFace
	EdgeEdge
	Unsupported
)

func (t ContactType) String() string {
	switch t {
	case FaceVertex:
		return "face-vertex"
	case VertexFace:
		return "vertex-face"
	case EdgeEdge:
		return "edge-edge"
	default:
		return "unsupported"
	}
}

// Contact is one detected contact in world coordinates. Normal is unit length
// and points from body B to body A. For EdgeEdge contacts edge A is a segment
// of body B and edge B a segment of body A.
type Contact struct {
	Point           mgl64.Vec3
	Normal          mgl64.Vec3
	Type            ContactType
	EdgeAFixedPoint mgl64.Vec3
	EdgeADir        mgl64.Vec3
	EdgeBFixedPoint mgl64.Vec3
	EdgeBDir        mgl64.Vec3
	Depth           float64
}

func (c Contact) Validate() error {
	if l := c.Normal.Len(); math.Abs(l-1) > 1e-9 {
		return fmt.Errorf("collision: contact normal has length %g", l)
	}
	if c.Type == EdgeEdge && (c.EdgeADir.Len() == 0 || c.EdgeBDir.Len() == 0) {
		return fmt.Errorf("collision: edge-edge contact with zero-length edge")
	}
	return nil
}

// Collision pairs a contact with the bodies it was detected between. BodyA
// always precedes BodyB in world order.
type Collision struct {
	BodyA    *dynamics.BodyNode
	BodyB    *dynamics.BodyNode
	Contact  Contact
	Friction float64
}
