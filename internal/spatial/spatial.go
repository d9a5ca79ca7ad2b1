package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec6 is a twist (angular, linear) or a wrench (moment, force).
type Vec6 [6]float64

func NewVec6(angular, linear mgl64.Vec3) Vec6 {
	return Vec6{angular[0], angular[1], angular[2], linear[0], linear[1], linear[2]}
}

func (v Vec6) Angular() mgl64.Vec3 { return mgl64.Vec3{v[0], v[1], v[2]} }
func (v Vec6) Linear() mgl64.Vec3  { return mgl64.Vec3{v[3], v[4], v[5]} }

func (v Vec6) Dot(o Vec6) float64 {
	sum := 0.0
	for i := range v {
		sum += v[i] * o[i]
	}
	return sum
}

func (v Vec6) Add(o Vec6) Vec6 {
	for i := range v {
		v[i] += o[i]
	}
	return v
}

func (v Vec6) Sub(o Vec6) Vec6 {
	for i := range v {
		v[i] -= o[i]
	}
	return v
}

func (v Vec6) Scale(s float64) Vec6 {
	for i := range v {
		v[i] *= s
	}
	return v
}

func (v Vec6) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Isometry is a rigid transform x -> R x + P.
type Isometry struct {
	R mgl64.Mat3
	P mgl64.Vec3
}

func Identity() Isometry {
	return Isometry{R: mgl64.Ident3()}
}

func Translation(p mgl64.Vec3) Isometry {
	return Isometry{R: mgl64.Ident3(), P: p}
}

func (t Isometry) Mul(o Isometry) Isometry {
	return Isometry{
		R: t.R.Mul3(o.R),
		P: t.R.Mul3x1(o.P).Add(t.P),
	}
}

func (t Isometry) Inverse() Isometry {
	rt := t.R.Transpose()
	return Isometry{R: rt, P: rt.Mul3x1(t.P).Mul(-1)}
}

func (t Isometry) TransformPoint(p mgl64.Vec3) mgl64.Vec3 {
	return t.R.Mul3x1(p).Add(t.P)
}

func (t Isometry) Rotate(v mgl64.Vec3) mgl64.Vec3 {
	return t.R.Mul3x1(v)
}

// Skew returns the cross-product matrix [v] with [v] x = v × x.
func Skew(v mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3{
		0, v[2], -v[1],
		-v[2], 0, v[0],
		v[1], -v[0], 0,
	}
}

// AdT maps a twist expressed in the frame of t into the parent frame.
func AdT(t Isometry, s Vec6) Vec6 {
	w := t.R.Mul3x1(s.Angular())
	v := t.P.Cross(w).Add(t.R.Mul3x1(s.Linear()))
	return NewVec6(w, v)
}

// AdInvT is AdT(t.Inverse(), s) without forming the inverse.
func AdInvT(t Isometry, s Vec6) Vec6 {
	rt := t.R.Transpose()
	w := s.Angular()
	return NewVec6(rt.Mul3x1(w), rt.Mul3x1(s.Linear().Sub(t.P.Cross(w))))
}

// Ad is the Lie bracket [a, b] of two twists, the derivative of
// AdT(exp(a θ), b) at θ = 0.
func Ad(a, b Vec6) Vec6 {
	wa, va := a.Angular(), a.Linear()
	wb, vb := b.Angular(), b.Linear()
	return NewVec6(wa.Cross(wb), wa.Cross(vb).Add(va.Cross(wb)))
}

// ExpMap returns the rigid transform reached by following twist s for unit time.
func ExpMap(s Vec6) Isometry {
	w, v := s.Angular(), s.Linear()
	theta := w.Len()
	if theta < 1e-12 {
		return Isometry{R: mgl64.Ident3().Add(Skew(w)), P: v}
	}

	var a, b, c float64
	if theta < 1e-4 {
		t2 := theta * theta
		a = 1 - t2/6
		b = 0.5 - t2/24
		c = 1.0/6 - t2/120
	} else {
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / (theta * theta)
		c = (theta - math.Sin(theta)) / (theta * theta * theta)
	}

	k := Skew(w)
	k2 := k.Mul3(k)
	r := mgl64.Ident3().Add(k.Mul(a)).Add(k2.Mul(b))
	vMat := mgl64.Ident3().Add(k.Mul(b)).Add(k2.Mul(c))
	return Isometry{R: r, P: vMat.Mul3x1(v)}
}

// GradientWrtTheta is the velocity of point p under the world twist s.
func GradientWrtTheta(s Vec6, p mgl64.Vec3) mgl64.Vec3 {
	return s.Angular().Cross(p).Add(s.Linear())
}

// GradientWrtThetaPureRotation is the rate of change of direction d under the
// rotational part of s.
func GradientWrtThetaPureRotation(s Vec6, d mgl64.Vec3) mgl64.Vec3 {
	return s.Angular().Cross(d)
}
