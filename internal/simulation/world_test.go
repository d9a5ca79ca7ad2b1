package simulation

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/spatial"
	"gonum.org/v1/gonum/mat"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := NewWorld("test")

	ground := dynamics.NewSkeleton("ground")
	ground.AddBody(nil, dynamics.Weld("fixed", spatial.Identity()), dynamics.BodyProps{Name: "plane"})

	arm := dynamics.NewSkeleton("arm")
	upper := arm.AddBody(nil, dynamics.Revolute("shoulder", spatial.Identity(), mgl64.Vec3{0, 0, 1}), dynamics.BodyProps{
		Name: "upper", Mass: 1.0, Inertia: dynamics.RodInertia(1.0, 1.0, 1), COM: mgl64.Vec3{0, -0.5, 0},
	})
	arm.AddBody(upper, dynamics.Revolute("elbow", spatial.Translation(mgl64.Vec3{0, -1, 0}), mgl64.Vec3{0, 0, 1}), dynamics.BodyProps{
		Name: "lower", Mass: 0.5, Inertia: dynamics.RodInertia(0.5, 1.0, 1), COM: mgl64.Vec3{0, -0.5, 0},
	})

	ball := dynamics.NewSkeleton("ball")
	ball.AddBody(nil, dynamics.Free("root", spatial.Identity()), dynamics.BodyProps{
		Name: "ball", Mass: 2.0, Inertia: dynamics.SphereInertia(2.0, 0.2),
	})

	for _, s := range []*dynamics.Skeleton{ground, arm, ball} {
		if err := w.AddSkeleton(s); err != nil {
			t.Fatalf("add skeleton: %v", err)
		}
	}
	return w
}

func TestWorldLayout(t *testing.T) {
	w := newTestWorld(t)

	if w.NumDofs() != 8 {
		t.Fatalf("expected 8 dofs, got %d", w.NumDofs())
	}
	if off := w.DofOffset(w.Skeleton("ball")); off != 2 {
		t.Errorf("expected ball offset 2, got %d", off)
	}
	if d := w.Dof(3); d.Skeleton().Name() != "ball" || d.IndexInSkeleton() != 1 {
		t.Errorf("world dof 3 resolved to %s/%d", d.Skeleton().Name(), d.IndexInSkeleton())
	}
	if idx := w.WorldIndex(w.Skeleton("arm").Dof(1)); idx != 1 {
		t.Errorf("expected elbow at world index 1, got %d", idx)
	}

	q := []float64{0.1, 0.2, 1, 2, 3, 4, 5, 6}
	w.SetPositions(q)
	got := w.Positions()
	for i := range q {
		if got[i] != q[i] {
			t.Errorf("position %d: expected %f, got %f", i, q[i], got[i])
		}
	}

	err := w.AddSkeleton(dynamics.NewSkeleton("ball"))
	if !errors.Is(err, ErrDuplicateSkeleton) {
		t.Errorf("expected duplicate skeleton error, got %v", err)
	}
}

func TestInvMassMatrix(t *testing.T) {
	w := newTestWorld(t)
	w.SetPositions([]float64{0.3, -0.4, 0, 1, 0, 0.2, 0.1, -0.3})

	m := w.MassMatrix()
	inv, err := w.InvMassMatrix()
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}

	var prod mat.Dense
	prod.Mul(m, inv)
	for i := 0; i < w.NumDofs(); i++ {
		for j := 0; j < w.NumDofs(); j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(prod.At(i, j)-want) > 1e-10 {
				t.Errorf("(M M⁻¹)[%d][%d] = %g", i, j, prod.At(i, j))
			}
		}
	}

	y := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	x, err := w.SolveMass(y)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	for i := range y {
		want := mat.Row(nil, i, inv)
		sum := 0.0
		for j := range y {
			sum += want[j] * y[j]
		}
		if math.Abs(sum-x[i]) > 1e-10 {
			t.Errorf("solve row %d: expected %f, got %f", i, sum, x[i])
		}
	}
}

func TestMassFactorKeepsItsPose(t *testing.T) {
	w := newTestWorld(t)
	w.SetPositions([]float64{0.3, -0.4, 0, 1, 0, 0.2, 0.1, -0.3})

	f, err := w.FactorMass()
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	ys := [][]float64{{1, 2, 3, 4, 5, 6, 7, 8}, {0, 0, 1, 0, -1, 0, 0, 2}}
	var before [][]float64
	for _, y := range ys {
		want, err := w.SolveMass(y)
		if err != nil {
			t.Fatal(err)
		}
		got, err := f.Solve(y)
		if err != nil {
			t.Fatal(err)
		}
		for i := range want {
			if math.Abs(got[i]-want[i]) > 1e-12 {
				t.Errorf("solve %d: expected %f, got %f", i, want[i], got[i])
			}
		}
		before = append(before, got)
	}

	// the factor is a snapshot of the pose it was taken at
	w.SetPositions([]float64{1.1, 0.4, 0, 0, 0.5, 0, 0, 0})
	again, err := f.Solve(ys[0])
	if err != nil {
		t.Fatal(err)
	}
	for i := range again {
		if again[i] != before[0][i] {
			t.Errorf("factor changed with the pose at %d: %f vs %f", i, before[0][i], again[i])
		}
	}
}

func TestPreserveRestoresOnEveryPath(t *testing.T) {
	w := newTestWorld(t)
	q := w.Positions()
	v := w.Velocities()

	perturb := func() {
		p := w.Positions()
		p[0] += 1
		w.SetPositions(p)
		vel := w.Velocities()
		vel[3] = 5
		w.SetVelocities(vel)
	}

	sentinel := errors.New("boom")
	err := Preserve(w, func() error {
		perturb()
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error, got %v", err)
	}
	if w.Positions()[0] != q[0] || w.Velocities()[3] != v[3] {
		t.Error("state not restored after early return")
	}

	func() {
		defer func() { _ = recover() }()
		_ = Preserve(w, func() error {
			perturb()
			panic("solver exploded")
		})
	}()
	if w.Positions()[0] != q[0] || w.Velocities()[3] != v[3] {
		t.Error("state not restored after panic")
	}
}

// c is quadratic in q̇, so (∂c/∂q̇) q̇ = 2 (c(q̇) - c(0)).
func TestCoriolisVelocityDerivative(t *testing.T) {
	w := newTestWorld(t)
	w.SetPositions([]float64{0.3, -0.9, 0, 0, 0, 0.4, -0.2, 0.1})
	vel := []float64{1.2, -0.7, 0.1, 0.3, -0.2, 0.5, 0.9, -0.4}

	w.SetVelocities(make([]float64, len(vel)))
	c0 := w.CoriolisAndGravity()
	w.SetVelocities(vel)
	c1 := w.CoriolisAndGravity()

	jac, err := w.CoriolisAndGravityWrtVelocity()
	if err != nil {
		t.Fatalf("jacobian: %v", err)
	}
	for i := range vel {
		got := 0.0
		for j := range vel {
			got += jac.At(i, j) * vel[j]
		}
		want := 2 * (c1[i] - c0[i])
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("row %d: expected %f, got %f", i, want, got)
		}
	}
	if w.Velocities()[0] != vel[0] {
		t.Error("velocities not restored")
	}
}

func TestInvMassProductWrtPosition(t *testing.T) {
	w := newTestWorld(t)
	q := []float64{0.3, -0.9, 0, 0, 0, 0.4, -0.2, 0.1}
	w.SetPositions(q)
	y := []float64{0.5, -1, 0, 2, 0, 0.1, 0, 0.3}

	jac, err := w.InvMassProductWrtPosition(y)
	if err != nil {
		t.Fatalf("jacobian: %v", err)
	}

	// The elbow angle changes the arm block only.
	if jac.At(0, 1) == 0 {
		t.Error("expected arm block to depend on elbow angle")
	}
	for i := 2; i < 8; i++ {
		if jac.At(i, 0) != 0 || jac.At(i, 1) != 0 {
			t.Errorf("ball row %d depends on arm position", i)
		}
	}
	// A free body's mass matrix is independent of its translation.
	for i := 0; i < 8; i++ {
		for j := 2; j < 5; j++ {
			if math.Abs(jac.At(i, j)) > 1e-9 {
				t.Errorf("entry (%d,%d) = %g, want 0", i, j, jac.At(i, j))
			}
		}
	}
}
