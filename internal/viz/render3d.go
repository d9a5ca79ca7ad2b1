package viz

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/simulation"
)

// Camera is an orthographic view orbiting Center. With zero angles it looks
// down -z with +y up.
type Camera struct {
	Center     mgl64.Vec3
	Yaw, Pitch float64
	// Zoom is the fraction of the shorter canvas side spanned by 4 m.
	Zoom float64
}

func NewCamera() *Camera {
	return &Camera{Zoom: 1}
}

func (c *Camera) Orbit(dyaw, dpitch float64) {
	c.Yaw += dyaw
	c.Pitch = math.Max(-math.Pi/2, math.Min(math.Pi/2, c.Pitch+dpitch))
}

func (c *Camera) ZoomIn()  { c.Zoom = math.Min(10, c.Zoom*1.2) }
func (c *Camera) ZoomOut() { c.Zoom = math.Max(0.1, c.Zoom/1.2) }

func (c *Camera) view(p mgl64.Vec3) mgl64.Vec3 {
	rot := mgl64.Rotate3DX(c.Pitch).Mul3(mgl64.Rotate3DY(c.Yaw))
	return rot.Mul3x1(p.Sub(c.Center))
}

// Project maps a world point to canvas dots. Depth grows toward the viewer.
func (c *Camera) Project(p mgl64.Vec3, cv *Canvas) (x, y int, depth float64) {
	v := c.view(p)
	w, h := cv.DotWidth(), cv.DotHeight()
	scale := c.Zoom * float64(min(w, h)) / 4
	x = w/2 + int(math.Round(v[0]*scale))
	y = h/2 - int(math.Round(v[1]*scale))
	return x, y, v[2]
}

type Segment struct {
	From, To mgl64.Vec3
}

// Wireframe is a set of world-space segments and marked points.
type Wireframe struct {
	Segments []Segment
	Points   []mgl64.Vec3
}

func (w *Wireframe) AddSegment(from, to mgl64.Vec3) {
	w.Segments = append(w.Segments, Segment{From: from, To: to})
}

func (w *Wireframe) AddPoint(p mgl64.Vec3) { w.Points = append(w.Points, p) }

func (w *Wireframe) Clear() {
	w.Segments = w.Segments[:0]
	w.Points = w.Points[:0]
}

func Render3D(cv *Canvas, w *Wireframe, cam *Camera) {
	if cv == nil || w == nil || cam == nil {
		return
	}
	for _, s := range w.Segments {
		x0, y0, _ := cam.Project(s.From, cv)
		x1, y1, _ := cam.Project(s.To, cv)
		cv.DrawLine(x0, y0, x1, y1)
	}
	for _, p := range w.Points {
		x, y, _ := cam.Project(p, cv)
		cv.Mark(x, y)
	}
}

// unboundedHalfExtent is how much of an infinite face gets drawn.
const unboundedHalfExtent = 2.0

// normalLength is the drawn length of a contact normal.
const normalLength = 0.25

// AddWorld draws every body of w: links between parent and child frames,
// shape vertices, edges and face outlines. Contacts of snap, when given,
// are drawn as a point with its normal.
func (w *Wireframe) AddWorld(world *simulation.World, snap *neural.BackpropSnapshot) {
	for _, skel := range world.Skeletons() {
		for _, body := range skel.BodyNodes() {
			tf := body.WorldTransform()
			if parent := body.Parent(); parent != nil {
				w.AddSegment(parent.WorldTransform().P, tf.P)
			}
			w.addShape(body)
		}
	}
	if snap == nil {
		return
	}
	for _, c := range snap.ClampingConstraints() {
		if c.Constraint().Kind != neural.ContactKind || c.IndexInConstraint() != 0 {
			continue
		}
		p := c.ContactWorldPosition()
		w.AddPoint(p)
		w.AddSegment(p, p.Add(c.ContactWorldNormal().Mul(normalLength)))
	}
}

func (w *Wireframe) addShape(body *dynamics.BodyNode) {
	shape := body.Shape()
	if shape == nil {
		return
	}
	tf := body.WorldTransform()
	for _, v := range shape.Vertices {
		w.AddPoint(tf.TransformPoint(v))
	}
	for _, e := range shape.Edges {
		w.AddSegment(tf.TransformPoint(e.From), tf.TransformPoint(e.To))
	}
	for _, f := range shape.Faces {
		hu, hv := f.HalfU, f.HalfV
		if hu == 0 {
			hu = unboundedHalfExtent
		}
		if hv == 0 {
			hv = unboundedHalfExtent
		}
		corner := func(su, sv float64) mgl64.Vec3 {
			return tf.TransformPoint(f.Point.Add(f.U.Mul(su * hu)).Add(f.V.Mul(sv * hv)))
		}
		a, b, c, d := corner(-1, -1), corner(1, -1), corner(1, 1), corner(-1, 1)
		w.AddSegment(a, b)
		w.AddSegment(b, c)
		w.AddSegment(c, d)
		w.AddSegment(d, a)
	}
}
