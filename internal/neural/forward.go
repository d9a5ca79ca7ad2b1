package neural

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/diffdyn/internal/collision"
	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/lcp"
	"github.com/san-kum/diffdyn/internal/simulation"
)

const (
	// DefaultLimitTolerance is how close to a joint limit a dof must be for
	// the limit to enter the impulse solve.
	DefaultLimitTolerance = 1e-3

	// DefaultClassifyTolerance separates clamping from bounded impulses.
	DefaultClassifyTolerance = 1e-9
)

// Stepper advances a world by one time step. The zero value is not usable;
// call NewStepper.
type Stepper struct {
	Detector          *collision.Detector
	Solver            lcp.Solver
	LimitTolerance    float64
	ClassifyTolerance float64
}

func NewStepper() *Stepper {
	return &Stepper{
		Detector:          collision.NewDetector(),
		Solver:            lcp.Default(),
		LimitTolerance:    DefaultLimitTolerance,
		ClassifyTolerance: DefaultClassifyTolerance,
	}
}

var defaultStepper = NewStepper()

func stepperOrDefault(s *Stepper) *Stepper {
	if s == nil {
		return defaultStepper
	}
	return s
}

// ForwardPass runs one time step with the default stepper.
func ForwardPass(w *simulation.World, assembleSnapshot bool) (*BackpropSnapshot, error) {
	return defaultStepper.ForwardPass(w, assembleSnapshot)
}

// row is one scalar constraint direction of the impulse solve.
type row struct {
	dcc    *DifferentiableContactConstraint
	dir    []float64 // generalized force per unit impulse
	minv   []float64 // M⁻¹ dir
	normal int       // normal row a friction row is bounded by, else -1
	mu     float64
}

// ForwardPass integrates smooth dynamics, resolves contacts and joint limits
// into impulses, writes the post-step state back to w and, when asked,
// returns a snapshot of the step for backpropagation.
func (s *Stepper) ForwardPass(w *simulation.World, assembleSnapshot bool) (*BackpropSnapshot, error) {
	n := w.NumDofs()
	dt := w.TimeStep()

	q := w.Positions()
	v := w.Velocities()
	tau := w.Forces()

	c := w.CoriolisAndGravity()
	y := make([]float64, n)
	for i := range y {
		y[i] = dt * (tau[i] - c[i])
	}
	mass, err := w.FactorMass()
	if err != nil {
		return nil, s.stepError(w, err)
	}
	dv, err := mass.Solve(y)
	if err != nil {
		return nil, s.stepError(w, err)
	}
	vStar := make([]float64, n)
	for i := range vStar {
		vStar[i] = v[i] + dv[i]
	}

	rows, err := s.buildRows(w, mass)
	if err != nil {
		return nil, s.stepError(w, err)
	}

	x, err := s.solve(rows, vStar)
	if err != nil {
		return nil, s.stepError(w, fmt.Errorf("%w: %w", ErrLCPFailed, err))
	}

	vNext := append([]float64(nil), vStar...)
	for k, r := range rows {
		for i := range vNext {
			vNext[i] += x[k] * r.minv[i]
		}
	}
	qNext := make([]float64, n)
	for i := range qNext {
		qNext[i] = q[i] + dt*vNext[i]
	}
	if !dynamo.Vector(vNext).IsValid() || !dynamo.Vector(qNext).IsValid() {
		return nil, s.stepError(w, dynamo.ErrInvalidState)
	}

	w.SetVelocities(vNext)
	w.SetPositions(qNext)
	w.Advance()

	if !assembleSnapshot {
		return nil, nil
	}
	snap := newSnapshot(s, w, q, v, tau, vStar, qNext, vNext)
	s.classify(snap, rows, x)
	return snap, nil
}

func (s *Stepper) stepError(w *simulation.World, err error) error {
	return &StepError{Step: w.Steps(), Time: w.Time(), Wrapped: err}
}

func (s *Stepper) buildRows(w *simulation.World, mass *simulation.MassFactor) ([]row, error) {
	det := *s.Detector
	det.Friction = w.FrictionCoeff()

	var rows []row
	add := func(cons *Constraint, index, normal int) error {
		dcc := NewDifferentiableContactConstraint(cons, index)
		dir := dcc.WorldConstraintForces(w)
		minv, err := mass.Solve(dir)
		if err != nil {
			return err
		}
		rows = append(rows, row{dcc: dcc, dir: dir, minv: minv, normal: normal, mu: cons.Friction})
		return nil
	}

	for _, col := range det.Detect(w.Skeletons()) {
		cons := NewContactConstraint(col)
		normal := len(rows)
		if err := add(cons, 0, -1); err != nil {
			return nil, err
		}
		for k := 1; k <= cons.TangentDirections; k++ {
			if err := add(cons, k, normal); err != nil {
				return nil, err
			}
		}
	}

	for _, d := range w.Dofs() {
		if !d.HasLimits() {
			continue
		}
		var sign float64
		switch {
		case d.Position() <= d.Lower()+s.LimitTolerance:
			sign = 1
		case d.Position() >= d.Upper()-s.LimitTolerance:
			sign = -1
		default:
			continue
		}
		if err := add(NewJointLimitConstraint(d, sign), 0, -1); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (s *Stepper) solve(rows []row, vStar []float64) ([]float64, error) {
	m := len(rows)
	if m == 0 {
		return nil, nil
	}
	p := lcp.NewProblem(m)
	for i, ri := range rows {
		for j, rj := range rows {
			p.A.Set(i, j, dot(ri.dir, rj.minv))
		}
		p.B[i] = dot(ri.dir, vStar)
		if ri.normal >= 0 {
			p.Lo[i], p.Hi[i] = -ri.mu, ri.mu
			p.FIndex[i] = ri.normal
		} else {
			p.Lo[i], p.Hi[i] = 0, math.Inf(1)
		}
	}
	x, err := s.Solver.Solve(p)
	if err != nil {
		slog.Warn("impulse solve failed", "rows", m, "error", err)
		return nil, err
	}
	return x, nil
}

// classify splits active rows into clamping rows, whose impulse lies strictly
// inside its box, and upper-bound rows sitting on a friction bound. Rows with
// no impulse and friction rows of inactive normals are dropped.
func (s *Stepper) classify(snap *BackpropSnapshot, rows []row, x []float64) {
	tol := s.ClassifyTolerance * (1 + dynamo.Vector(x).MaxAbs())
	clampIndex := make([]int, len(rows))

	type bounded struct {
		k     int
		sigma float64
	}
	var upper []bounded

	for k, r := range rows {
		clampIndex[k] = -1
		if r.normal < 0 {
			if x[k] > tol {
				clampIndex[k] = len(snap.clamping)
				snap.addClamping(r.dcc, x[k], r.dir)
			}
			continue
		}
		normal := x[r.normal]
		if normal <= tol {
			continue
		}
		if math.Abs(x[k]) < r.mu*normal-tol {
			clampIndex[k] = len(snap.clamping)
			snap.addClamping(r.dcc, x[k], r.dir)
			continue
		}
		sigma := 1.0
		if x[k] < 0 {
			sigma = -1
		}
		upper = append(upper, bounded{k: k, sigma: sigma})
	}

	// an upper-bound row always hangs off a clamping normal
	snap.boundMap = newDense(len(upper), len(snap.clamping))
	for u, b := range upper {
		r := rows[b.k]
		snap.addUpperBound(r.dcc, x[b.k], r.dir)
		snap.boundMap.Set(u, clampIndex[r.normal], b.sigma*r.mu)
	}

	for i, d := range snap.clamping {
		d.SetOffsetIntoWorld(i, false)
		d.stepper = s
	}
	for i, d := range snap.upperBound {
		d.SetOffsetIntoWorld(i, true)
		d.stepper = s
	}
	slog.Debug("forward pass",
		"rows", len(rows),
		"clamping", len(snap.clamping),
		"upper_bound", len(snap.upperBound),
	)
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
