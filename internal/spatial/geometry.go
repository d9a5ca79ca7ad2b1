package spatial

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

const parallelEpsilon = 1e-12

// ContactPoint returns the midpoint of the closest points between the lines
// pa + s da and pb + t db. It panics on parallel directions.
func ContactPoint(pa, da, pb, db mgl64.Vec3) mgl64.Vec3 {
	s, t := lineParams(pa, da, pb, db)
	onA := pa.Add(da.Mul(s))
	onB := pb.Add(db.Mul(t))
	return onA.Add(onB).Mul(0.5)
}

func lineParams(pa, da, pb, db mgl64.Vec3) (float64, float64) {
	r := pa.Sub(pb)
	a := da.Dot(da)
	b := da.Dot(db)
	c := db.Dot(db)
	d := da.Dot(r)
	e := db.Dot(r)
	denom := a*c - b*b
	if denom < parallelEpsilon*a*c || denom == 0 {
		panic(fmt.Sprintf("spatial: degenerate edge pair, directions %v and %v are parallel", da, db))
	}
	return (b*e - c*d) / denom, (a*e - b*d) / denom
}

// ContactPointGradient differentiates ContactPoint given the rates of change
// of both line origins and directions.
func ContactPointGradient(pa, dpa, da, dda, pb, dpb, db, ddb mgl64.Vec3) mgl64.Vec3 {
	r := pa.Sub(pb)
	dr := dpa.Sub(dpb)

	aa := da.Dot(da)
	ab := da.Dot(db)
	bb := db.Dot(db)
	ar := da.Dot(r)
	br := db.Dot(r)

	dAA := 2 * da.Dot(dda)
	dAB := dda.Dot(db) + da.Dot(ddb)
	dBB := 2 * db.Dot(ddb)
	dAR := dda.Dot(r) + da.Dot(dr)
	dBR := ddb.Dot(r) + db.Dot(dr)

	denom := aa*bb - ab*ab
	if denom < parallelEpsilon*aa*bb || denom == 0 {
		panic(fmt.Sprintf("spatial: degenerate edge pair, directions %v and %v are parallel", da, db))
	}
	dDenom := dAA*bb + aa*dBB - 2*ab*dAB

	numS := ab*br - bb*ar
	numT := aa*br - ab*ar
	dNumS := dAB*br + ab*dBR - dBB*ar - bb*dAR
	dNumT := dAA*br + aa*dBR - dAB*ar - ab*dAR

	s := numS / denom
	t := numT / denom
	ds := (dNumS*denom - numS*dDenom) / (denom * denom)
	dt := (dNumT*denom - numT*dDenom) / (denom * denom)

	grad := dpa.Add(da.Mul(ds)).Add(dda.Mul(s))
	grad = grad.Add(dpb).Add(db.Mul(dt)).Add(ddb.Mul(t))
	return grad.Mul(0.5)
}

// NormalizedCross returns normalize(a × b).
func NormalizedCross(a, b mgl64.Vec3) mgl64.Vec3 {
	u := a.Cross(b)
	l := u.Len()
	if l < parallelEpsilon {
		panic(fmt.Sprintf("spatial: cannot normalize cross product of parallel vectors %v and %v", a, b))
	}
	return u.Mul(1 / l)
}

// NormalizedCrossGradient differentiates NormalizedCross.
func NormalizedCrossGradient(a, da, b, db mgl64.Vec3) mgl64.Vec3 {
	u := a.Cross(b)
	l := u.Len()
	if l < parallelEpsilon {
		panic(fmt.Sprintf("spatial: cannot normalize cross product of parallel vectors %v and %v", a, b))
	}
	n := u.Mul(1 / l)
	du := da.Cross(b).Add(a.Cross(db))
	return du.Sub(n.Mul(n.Dot(du))).Mul(1 / l)
}

var (
	unitX = mgl64.Vec3{1, 0, 0}
	unitZ = mgl64.Vec3{0, 0, 1}
)

const tangentFallback = 1e-3

// TangentBasis returns the two friction directions orthogonal to unit normal n.
func TangentBasis(n mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	u := tangentSeed(n).Cross(n)
	t1 := u.Normalize()
	return t1, n.Cross(t1)
}

// TangentBasisGradient differentiates TangentBasis along dn.
func TangentBasisGradient(n, dn mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	seed := tangentSeed(n)
	u := seed.Cross(n)
	l := u.Len()
	t1 := u.Mul(1 / l)
	du := seed.Cross(dn)
	dt1 := du.Sub(t1.Mul(t1.Dot(du))).Mul(1 / l)
	dt2 := dn.Cross(t1).Add(n.Cross(dt1))
	return dt1, dt2
}

func tangentSeed(n mgl64.Vec3) mgl64.Vec3 {
	if unitZ.Cross(n).Len() < tangentFallback {
		return unitX
	}
	return unitZ
}
