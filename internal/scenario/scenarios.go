package scenario

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/simulation"
	"github.com/san-kum/diffdyn/internal/spatial"
)

func newWorld(name string, skels ...*dynamics.Skeleton) (*simulation.World, error) {
	w := simulation.NewWorld(name)
	for _, s := range skels {
		if err := w.AddSkeleton(s); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func ground() *dynamics.Skeleton {
	s := dynamics.NewSkeleton("ground")
	s.AddBody(nil, dynamics.Weld("fixed", spatial.Identity()), dynamics.BodyProps{
		Name:  "plane",
		Shape: dynamics.PlaneShape(mgl64.Vec3{}, mgl64.Vec3{0, 1, 0}),
	})
	return s
}

// BallOnPlane rests a unit ball with its lowest point on y = 0. The ground
// comes first, so the contact is face-vertex with the ground as body A.
func BallOnPlane() (*simulation.World, error) {
	ball := dynamics.NewSkeleton("ball")
	ball.AddBody(nil, dynamics.Free("root", spatial.Translation(mgl64.Vec3{0, 0.5, 0})), dynamics.BodyProps{
		Name:    "ball",
		Mass:    1,
		Inertia: dynamics.SphereInertia(1, 0.5),
		Shape:   &dynamics.Shape{Vertices: []mgl64.Vec3{{0, -0.5, 0}}},
	})
	return newWorld("ball_on_plane", ground(), ball)
}

// SlidingPuck slides a point-contact puck along +x fast enough that friction
// saturates in that direction.
func SlidingPuck() (*simulation.World, error) {
	puck := dynamics.NewSkeleton("puck")
	puck.AddBody(nil, dynamics.Translational("root", spatial.Translation(mgl64.Vec3{0, 0.1, 0})), dynamics.BodyProps{
		Name:    "puck",
		Mass:    1,
		Inertia: dynamics.BoxInertia(1, mgl64.Vec3{0.4, 0.2, 0.4}),
		Shape:   &dynamics.Shape{Vertices: []mgl64.Vec3{{0, -0.1, 0}}},
	})
	puck.Dof(0).SetVelocity(1)

	w, err := newWorld("sliding_puck", ground(), puck)
	if err != nil {
		return nil, err
	}
	w.SetFrictionCoeff(0.5)
	return w, nil
}

// CrossedBars drops a free bar lying along z onto a rail hinged at its left
// end and lying along x.
func CrossedBars() (*simulation.World, error) {
	rail := dynamics.NewSkeleton("rail")
	rail.AddBody(nil, dynamics.Revolute("hinge", spatial.Translation(mgl64.Vec3{-1, 0, 0}), mgl64.Vec3{0, 0, 1}), dynamics.BodyProps{
		Name:    "rail",
		Mass:    1,
		Inertia: dynamics.RodInertia(1, 2, 0),
		COM:     mgl64.Vec3{1, 0, 0},
		Shape:   &dynamics.Shape{Edges: []dynamics.Edge{{From: mgl64.Vec3{0, 0, 0}, To: mgl64.Vec3{2, 0, 0}}}},
	})

	// a rod has no inertia about its own axis, so the free bar uses a box
	bar := dynamics.NewSkeleton("bar")
	bar.AddBody(nil, dynamics.Free("root", spatial.Translation(mgl64.Vec3{0.2, 0.0501, 0})), dynamics.BodyProps{
		Name:    "bar",
		Mass:    1,
		Inertia: dynamics.BoxInertia(1, mgl64.Vec3{0.1, 0.1, 2}),
		Shape:   &dynamics.Shape{Edges: []dynamics.Edge{{From: mgl64.Vec3{0, -0.05, -1}, To: mgl64.Vec3{0, -0.05, 1}}}},
	})
	return newWorld("crossed_bars", rail, bar)
}

// Tongs hangs two fingers from a palm that turns about z. The left finger's
// tip touches the right finger's inner face and opposing torques press them
// together, so the only contact is between bodies of one skeleton.
func Tongs() (*simulation.World, error) {
	s := dynamics.NewSkeleton("tongs")
	palm := s.AddBody(nil, dynamics.Revolute("hinge", spatial.Identity(), mgl64.Vec3{0, 0, 1}), dynamics.BodyProps{
		Name:    "palm",
		Mass:    1,
		Inertia: dynamics.BoxInertia(1, mgl64.Vec3{0.4, 0.1, 0.1}),
	})
	s.AddBody(palm, dynamics.Revolute("left", spatial.Translation(mgl64.Vec3{-0.1, 0, 0}), mgl64.Vec3{0, 0, 1}), dynamics.BodyProps{
		Name:    "left",
		Mass:    0.5,
		Inertia: dynamics.RodInertia(0.5, 0.5, 1),
		COM:     mgl64.Vec3{0, -0.25, 0},
		Shape:   &dynamics.Shape{Vertices: []mgl64.Vec3{{0.1, -0.5, 0}}},
	})
	s.AddBody(palm, dynamics.Revolute("right", spatial.Translation(mgl64.Vec3{0.1, 0, 0}), mgl64.Vec3{0, 0, 1}), dynamics.BodyProps{
		Name:    "right",
		Mass:    0.5,
		Inertia: dynamics.RodInertia(0.5, 0.5, 1),
		COM:     mgl64.Vec3{0, -0.25, 0},
		Shape: &dynamics.Shape{Faces: []dynamics.Face{
			dynamics.RectFace(mgl64.Vec3{-0.1, -0.5, 0}, mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{0, 1, 0}, 0.3, 0.3),
		}},
	})
	s.SetForces([]float64{0, 2, -2})
	return newWorld("tongs", s)
}

// Pincer is Tongs with edge-tipped fingers: the left tip is an edge along z,
// the right tip an edge along y, 0.2 mm apart. The contact is edge-edge and
// both edges share the palm hinge.
func Pincer() (*simulation.World, error) {
	s := dynamics.NewSkeleton("pincer")
	palm := s.AddBody(nil, dynamics.Revolute("hinge", spatial.Identity(), mgl64.Vec3{0, 0, 1}), dynamics.BodyProps{
		Name:    "palm",
		Mass:    1,
		Inertia: dynamics.BoxInertia(1, mgl64.Vec3{0.4, 0.1, 0.1}),
	})
	s.AddBody(palm, dynamics.Revolute("left", spatial.Translation(mgl64.Vec3{-0.1, 0, 0}), mgl64.Vec3{0, 0, 1}), dynamics.BodyProps{
		Name:    "left",
		Mass:    0.5,
		Inertia: dynamics.RodInertia(0.5, 0.5, 1),
		COM:     mgl64.Vec3{0, -0.25, 0},
		Shape:   &dynamics.Shape{Edges: []dynamics.Edge{{From: mgl64.Vec3{0.0998, -0.5, -0.1}, To: mgl64.Vec3{0.0998, -0.5, 0.1}}}},
	})
	s.AddBody(palm, dynamics.Revolute("right", spatial.Translation(mgl64.Vec3{0.1, 0, 0}), mgl64.Vec3{0, 0, 1}), dynamics.BodyProps{
		Name:    "right",
		Mass:    0.5,
		Inertia: dynamics.RodInertia(0.5, 0.5, 1),
		COM:     mgl64.Vec3{0, -0.25, 0},
		Shape:   &dynamics.Shape{Edges: []dynamics.Edge{{From: mgl64.Vec3{-0.1, -0.6, 0}, To: mgl64.Vec3{-0.1, -0.4, 0}}}},
	})
	s.SetForces([]float64{0, 2, -2})
	return newWorld("pincer", s)
}

// PendulumLimit starts a pendulum on its lower limit with gravity pulling it
// further down.
func PendulumLimit() (*simulation.World, error) {
	s := dynamics.NewSkeleton("pendulum")
	s.AddBody(nil, dynamics.Revolute("pivot", spatial.Identity(), mgl64.Vec3{0, 0, 1}).WithLimits(0.3, 2.5), dynamics.BodyProps{
		Name:    "bob",
		Mass:    1,
		Inertia: dynamics.SphereInertia(1, 0.1),
		COM:     mgl64.Vec3{0, -1, 0},
	})
	s.Dof(0).SetPosition(0.3)
	return newWorld("pendulum_limit", s)
}
