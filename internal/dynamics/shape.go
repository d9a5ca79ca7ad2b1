package dynamics

import "github.com/go-gl/mathgl/mgl64"

// Face is a planar patch in body coordinates. A zero half extent leaves that
// direction unbounded.
type Face struct {
	Point  mgl64.Vec3
	Normal mgl64.Vec3
	U, V   mgl64.Vec3
	HalfU  float64
	HalfV  float64
}

// Contains reports whether the projection of p lies on the patch.
func (f Face) Contains(p mgl64.Vec3) bool {
	d := p.Sub(f.Point)
	if f.HalfU > 0 && abs(d.Dot(f.U)) > f.HalfU {
		return false
	}
	if f.HalfV > 0 && abs(d.Dot(f.V)) > f.HalfV {
		return false
	}
	return true
}

// Edge is a segment in body coordinates.
type Edge struct {
	From mgl64.Vec3
	To   mgl64.Vec3
}

func (e Edge) Dir() mgl64.Vec3 { return e.To.Sub(e.From) }

// Shape is the contact geometry of a body.
type Shape struct {
	Vertices []mgl64.Vec3
	Faces    []Face
	Edges    []Edge
}

// PlaneShape is an unbounded face through point with the given outward normal.
func PlaneShape(point, normal mgl64.Vec3) *Shape {
	n := normal.Normalize()
	u := mgl64.Vec3{0, 0, 1}.Cross(n)
	if u.Len() < 1e-6 {
		u = mgl64.Vec3{1, 0, 0}.Cross(n)
	}
	u = u.Normalize()
	return &Shape{Faces: []Face{{Point: point, Normal: n, U: u, V: n.Cross(u)}}}
}

// RectFace is a bounded face centered at center.
func RectFace(center, normal, u mgl64.Vec3, halfU, halfV float64) Face {
	n := normal.Normalize()
	u = u.Normalize()
	return Face{Point: center, Normal: n, U: u, V: n.Cross(u), HalfU: halfU, HalfV: halfV}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
