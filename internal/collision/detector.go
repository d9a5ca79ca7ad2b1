package collision

import (
	"log/slog"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/spatial"
)

const (
	DefaultMargin         = 1e-3
	DefaultMaxPenetration = 0.05
)

// Detector finds vertex-face, face-vertex and edge-edge contacts between the
// shapes attached to bodies. Bodies joined directly by a joint never collide.
type Detector struct {
	Margin         float64
	MaxPenetration float64
	SelfCollision  bool
	Friction       float64
}

func NewDetector() *Detector {
	return &Detector{
		Margin:         DefaultMargin,
		MaxPenetration: DefaultMaxPenetration,
		SelfCollision:  true,
	}
}

// Detect returns contacts in a deterministic order: body pairs in world order,
// then vertex-face, face-vertex and edge-edge candidates.
func (d *Detector) Detect(skeletons []*dynamics.Skeleton) []Collision {
	var bodies []*dynamics.BodyNode
	for _, s := range skeletons {
		for _, b := range s.BodyNodes() {
			if b.Shape() != nil {
				bodies = append(bodies, b)
			}
		}
	}

	var out []Collision
	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			a, b := bodies[i], bodies[j]
			if !d.pairAllowed(a, b) {
				continue
			}
			out = d.collidePair(out, a, b)
		}
	}
	if len(out) > 0 {
		slog.Debug("contacts detected", "count", len(out))
	}
	return out
}

func (d *Detector) pairAllowed(a, b *dynamics.BodyNode) bool {
	if len(a.Skeleton().BodyDofs(a)) == 0 && len(b.Skeleton().BodyDofs(b)) == 0 {
		return false
	}
	if a.Skeleton() != b.Skeleton() {
		return true
	}
	if !d.SelfCollision {
		return false
	}
	return a.Parent() != b && b.Parent() != a
}

func (d *Detector) collidePair(out []Collision, a, b *dynamics.BodyNode) []Collision {
	ta, tb := a.WorldTransform(), b.WorldTransform()
	sa, sb := a.Shape(), b.Shape()

	for _, v := range sa.Vertices {
		p := ta.TransformPoint(v)
		for _, f := range sb.Faces {
			if depth, ok := d.vertexOnFace(p, f, tb); ok {
				out = d.emit(out, Collision{BodyA: a, BodyB: b, Contact: Contact{
					Point:  p,
					Normal: tb.Rotate(f.Normal),
					Type:   VertexFace,
					Depth:  depth,
				}, Friction: d.Friction})
			}
		}
	}

	for _, f := range sa.Faces {
		for _, v := range sb.Vertices {
			p := tb.TransformPoint(v)
			if depth, ok := d.vertexOnFace(p, f, ta); ok {
				out = d.emit(out, Collision{BodyA: a, BodyB: b, Contact: Contact{
					Point:  p,
					Normal: ta.Rotate(f.Normal).Mul(-1),
					Type:   FaceVertex,
					Depth:  depth,
				}, Friction: d.Friction})
			}
		}
	}

	for _, ea := range sa.Edges {
		for _, eb := range sb.Edges {
			if c, ok := d.edgePair(a, ea, ta, b, eb, tb); ok {
				out = d.emit(out, Collision{BodyA: a, BodyB: b, Contact: c, Friction: d.Friction})
			}
		}
	}
	return out
}

// emit drops contacts built from malformed geometry and reports them.
func (d *Detector) emit(out []Collision, c Collision) []Collision {
	if err := c.Contact.Validate(); err != nil {
		slog.Warn("dropping malformed contact", "body_a", c.BodyA.Name(), "body_b", c.BodyB.Name(), "type", c.Contact.Type, "error", err)
		return out
	}
	return append(out, c)
}

func (d *Detector) vertexOnFace(p mgl64.Vec3, f dynamics.Face, tf spatial.Isometry) (float64, bool) {
	local := tf.Inverse().TransformPoint(p)
	dist := local.Sub(f.Point).Dot(f.Normal)
	if dist > d.Margin || dist < -d.MaxPenetration {
		return 0, false
	}
	if !f.Contains(local) {
		return 0, false
	}
	return -dist, true
}

func (d *Detector) edgePair(a *dynamics.BodyNode, ea dynamics.Edge, ta spatial.Isometry, b *dynamics.BodyNode, eb dynamics.Edge, tb spatial.Isometry) (Contact, bool) {
	// body A's segment
	pa, da := ta.TransformPoint(ea.From), ta.Rotate(ea.Dir())
	// body B's segment
	pb, db := tb.TransformPoint(eb.From), tb.Rotate(eb.Dir())

	cross := da.Cross(db)
	if cross.Len() < 1e-9*da.Len()*db.Len() {
		return Contact{}, false
	}

	s, t := segmentParams(pa, da, pb, db)
	if math.IsNaN(s) || s < 0 || s > 1 || t < 0 || t > 1 {
		return Contact{}, false
	}
	onA := pa.Add(da.Mul(s))
	onB := pb.Add(db.Mul(t))
	sep := onA.Sub(onB)
	if sep.Len() > d.Margin+d.MaxPenetration {
		return Contact{}, false
	}

	c := Contact{
		Type:            EdgeEdge,
		EdgeAFixedPoint: pb,
		EdgeADir:        db,
		EdgeBFixedPoint: pa,
		EdgeBDir:        da,
	}
	n := edgeNormal(spatial.NormalizedCross(c.EdgeADir, c.EdgeBDir), a.WorldCOM().Sub(onA), onB.Sub(b.WorldCOM()), sep)

	// positive when the edges have crossed
	depth := -sep.Dot(n)
	if depth < -d.Margin || depth > d.MaxPenetration {
		return Contact{}, false
	}
	c.Depth = depth
	c.Normal = n
	c.Point = spatial.ContactPoint(c.EdgeAFixedPoint, c.EdgeADir, c.EdgeBFixedPoint, c.EdgeBDir)
	return c, true
}

// edgeNormal orients n from body B toward body A. The side each body lies on
// does not change when the edges cross, unlike the separation between them.
func edgeNormal(n, towardA, outOfB, sep mgl64.Vec3) mgl64.Vec3 {
	ref := towardA.Add(outOfB)
	if math.Abs(n.Dot(ref)) < 1e-12 {
		ref = sep
	}
	if n.Dot(ref) < 0 {
		return n.Mul(-1)
	}
	return n
}

// segmentParams returns the closest-point parameters of two non-parallel lines.
func segmentParams(pa, da, pb, db mgl64.Vec3) (float64, float64) {
	r := pa.Sub(pb)
	aa, ab, bb := da.Dot(da), da.Dot(db), db.Dot(db)
	ar, br := da.Dot(r), db.Dot(r)
	denom := aa*bb - ab*ab
	if math.Abs(denom) < 1e-15 {
		return math.NaN(), math.NaN()
	}
	return (ab*br - bb*ar) / denom, (aa*br - ab*ar) / denom
}
