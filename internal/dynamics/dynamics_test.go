package dynamics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/spatial"
)

var gravity = mgl64.Vec3{0, -9.81, 0}

func newDoublePendulum() *Skeleton {
	skel := NewSkeleton("double_pendulum")
	upper := skel.AddBody(nil, Revolute("shoulder", spatial.Identity(), mgl64.Vec3{0, 0, 1}), BodyProps{
		Name: "upper", Mass: 1.0, Inertia: RodInertia(1.0, 1.0, 1), COM: mgl64.Vec3{0, -0.5, 0},
	})
	skel.AddBody(upper, Revolute("elbow", spatial.Translation(mgl64.Vec3{0, -1, 0}), mgl64.Vec3{0, 0, 1}), BodyProps{
		Name: "lower", Mass: 0.7, Inertia: RodInertia(0.7, 0.8, 1), COM: mgl64.Vec3{0, -0.4, 0},
	})
	return skel
}

func newFreeBox() *Skeleton {
	skel := NewSkeleton("box")
	skel.AddBody(nil, Free("root", spatial.Identity()), BodyProps{
		Name: "box", Mass: 2.0, Inertia: BoxInertia(2.0, mgl64.Vec3{0.4, 0.2, 0.3}), COM: mgl64.Vec3{0.05, 0, -0.02},
	})
	return skel
}

func TestPendulumGravity(t *testing.T) {
	skel := NewSkeleton("pendulum")
	skel.AddBody(nil, Revolute("pivot", spatial.Identity(), mgl64.Vec3{0, 0, 1}), BodyProps{
		Name: "bob", Mass: 2.0, COM: mgl64.Vec3{0, -1.5, 0},
	})

	for _, q := range []float64{0, 0.3, -1.2, 2.5} {
		skel.SetPositions([]float64{q})
		c := skel.CoriolisAndGravity(gravity)
		want := 2.0 * 9.81 * 1.5 * math.Sin(q)
		if math.Abs(c[0]-want) > 1e-9 {
			t.Errorf("q=%.2f: expected %.6f, got %.6f", q, want, c[0])
		}
		m := skel.MassMatrix()
		if math.Abs(m.At(0, 0)-2.0*1.5*1.5) > 1e-9 {
			t.Errorf("q=%.2f: expected inertia %.4f, got %.4f", q, 4.5, m.At(0, 0))
		}
	}
}

func TestFreeBodyMassMatrix(t *testing.T) {
	skel := NewSkeleton("ball")
	skel.AddBody(nil, Free("root", spatial.Identity()), BodyProps{
		Name: "ball", Mass: 3.0, Inertia: SphereInertia(3.0, 0.5),
	})

	m := skel.MassMatrix()
	want := []float64{3, 3, 3, 0.3, 0.3, 0.3}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			expected := 0.0
			if i == j {
				expected = want[i]
			}
			if math.Abs(m.At(i, j)-expected) > 1e-12 {
				t.Errorf("M[%d][%d] = %f, want %f", i, j, m.At(i, j), expected)
			}
		}
	}
}

func TestWorldScrewAxisMatchesFiniteDifference(t *testing.T) {
	for _, skel := range []*Skeleton{newDoublePendulum(), newFreeBox()} {
		q := make([]float64, skel.NumDofs())
		for i := range q {
			q[i] = 0.1*float64(i+1) - 0.25
		}
		skel.SetPositions(q)

		body := skel.BodyNode(skel.NumBodyNodes() - 1)
		local := mgl64.Vec3{0.3, -0.2, 0.1}
		const h = 1e-6

		for _, idx := range skel.BodyDofs(body) {
			dof := skel.Dof(idx)
			w := skel.WorldScrewAxis(dof)
			analytic := spatial.GradientWrtTheta(w, body.WorldTransform().TransformPoint(local))

			dof.SetPosition(q[idx] + h)
			plus := body.WorldTransform().TransformPoint(local)
			dof.SetPosition(q[idx] - h)
			minus := body.WorldTransform().TransformPoint(local)
			dof.SetPosition(q[idx])

			fd := plus.Sub(minus).Mul(1 / (2 * h))
			if fd.Sub(analytic).Len() > 1e-7 {
				t.Errorf("%s dof %d: fd %v analytic %v", skel.Name(), idx, fd, analytic)
			}
		}
	}
}

func TestGravityIsPotentialGradient(t *testing.T) {
	skel := newDoublePendulum()
	q := []float64{0.4, -0.7}
	skel.SetPositions(q)
	skel.SetVelocities([]float64{0, 0})
	c := skel.CoriolisAndGravity(gravity)

	const h = 1e-6
	for i := range q {
		qp := append([]float64(nil), q...)
		qp[i] += h
		skel.SetPositions(qp)
		plus := skel.PotentialEnergy(gravity)
		qp[i] -= 2 * h
		skel.SetPositions(qp)
		minus := skel.PotentialEnergy(gravity)
		fd := (plus - minus) / (2 * h)
		if math.Abs(fd-c[i]) > 1e-6 {
			t.Errorf("dof %d: dV/dq %.8f, gravity term %.8f", i, fd, c[i])
		}
	}
}

// Coriolis forces must equal Ṁq̇ - ½ ∂(q̇ᵀMq̇)/∂q.
func TestCoriolisMatchesLagrangian(t *testing.T) {
	for _, skel := range []*Skeleton{newDoublePendulum(), newFreeBox()} {
		n := skel.NumDofs()
		q := make([]float64, n)
		v := make([]float64, n)
		for i := range q {
			q[i] = 0.2*float64(i) - 0.3
			v[i] = 0.5 - 0.15*float64(i)
		}
		skel.SetPositions(q)
		skel.SetVelocities(v)
		full := skel.CoriolisAndGravity(gravity)
		skel.SetVelocities(make([]float64, n))
		grav := skel.CoriolisAndGravity(gravity)

		const h = 1e-6
		shifted := func(dir []float64, scale float64) []float64 {
			out := make([]float64, n)
			for i := range q {
				out[i] = q[i] + scale*dir[i]
			}
			return out
		}

		skel.SetPositions(shifted(v, h))
		mPlus := skel.MassMatrix()
		skel.SetPositions(shifted(v, -h))
		mMinus := skel.MassMatrix()

		kinetic := func(pos []float64) float64 {
			skel.SetPositions(pos)
			m := skel.MassMatrix()
			e := 0.0
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					e += 0.5 * v[i] * m.At(i, j) * v[j]
				}
			}
			return e
		}

		for i := 0; i < n; i++ {
			mdot := 0.0
			for j := 0; j < n; j++ {
				mdot += (mPlus.At(i, j) - mMinus.At(i, j)) / (2 * h) * v[j]
			}
			e := make([]float64, n)
			e[i] = 1
			dT := (kinetic(shifted(e, h)) - kinetic(shifted(e, -h))) / (2 * h)
			want := mdot - dT
			got := full[i] - grav[i]
			if math.Abs(want-got) > 1e-5 {
				t.Errorf("%s dof %d: lagrangian %.8f, coriolis %.8f", skel.Name(), i, want, got)
			}
		}
		skel.SetPositions(q)
	}
}

func TestAncestry(t *testing.T) {
	skel := NewSkeleton("tongs")
	base := skel.AddBody(nil, Revolute("base", spatial.Identity(), mgl64.Vec3{0, 0, 1}), BodyProps{Name: "base", Mass: 1})
	left := skel.AddBody(base, Revolute("left", spatial.Translation(mgl64.Vec3{-0.1, 0, 0}), mgl64.Vec3{0, 0, 1}), BodyProps{Name: "left", Mass: 1})
	right := skel.AddBody(base, Planar("right", spatial.Translation(mgl64.Vec3{0.1, 0, 0})), BodyProps{Name: "right", Mass: 1})

	other := NewSkeleton("other")
	lone := other.AddBody(nil, Free("root", spatial.Identity()), BodyProps{Name: "lone", Mass: 1})

	baseDof := skel.Dof(0)
	leftDof := skel.Dof(1)
	rightX := skel.Dof(2)
	rightTheta := skel.Dof(4)

	tests := []struct {
		name string
		dof  *Dof
		body *BodyNode
		want bool
	}{
		{"base moves left", baseDof, left, true},
		{"base moves right", baseDof, right, true},
		{"left does not move right", leftDof, right, false},
		{"left does not move base", leftDof, base, false},
		{"joint moves own child", rightTheta, right, true},
		{"other skeleton", baseDof, lone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAncestorOfBody(tt.dof, tt.body); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if !IsAncestorOfDof(baseDof, rightTheta) {
		t.Error("base dof should be ancestor of right dofs")
	}
	if !IsAncestorOfDof(rightX, rightTheta) {
		t.Error("earlier dof in joint should be ancestor of later one")
	}
	if IsAncestorOfDof(rightTheta, rightX) {
		t.Error("later dof in joint should not be ancestor of earlier one")
	}
	if IsAncestorOfDof(leftDof, rightX) {
		t.Error("sibling dofs are not ancestors")
	}
	if rightTheta.IndexInTree() != 4 || lone.TreeIndex() != 0 {
		t.Errorf("unexpected tree indexing")
	}
}

func TestScrewAxisGradientIsLieBracket(t *testing.T) {
	skel := newDoublePendulum()
	q := []float64{0.3, 0.8}
	skel.SetPositions(q)

	shoulder, elbow := skel.Dof(0), skel.Dof(1)
	want := spatial.Ad(skel.WorldScrewAxis(shoulder), skel.WorldScrewAxis(elbow))

	const h = 1e-6
	shoulder.SetPosition(q[0] + h)
	plus := skel.WorldScrewAxis(elbow)
	shoulder.SetPosition(q[0] - h)
	minus := skel.WorldScrewAxis(elbow)
	shoulder.SetPosition(q[0])

	fd := plus.Sub(minus).Scale(1 / (2 * h))
	if fd.Sub(want).Norm() > 1e-8 {
		t.Errorf("fd %v bracket %v", fd, want)
	}
}
