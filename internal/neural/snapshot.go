package neural

import (
	"fmt"

	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/simulation"
	"gonum.org/v1/gonum/mat"
)

type dofRange struct {
	offset, count int
}

// BackpropSnapshot records one time step: the state before and after it and
// every constraint row that carried an impulse. Clamping rows have impulses
// strictly inside their box; upper-bound rows sit on a friction bound and
// follow their normal through the bound map E (x_ub = E x_c).
//
// A snapshot never mutates the world permanently. Jacobians are computed
// against the pre-step state and memoized.
type BackpropSnapshot struct {
	numDofs  int
	timeStep float64
	layout   map[string]dofRange

	// stepper produced this snapshot; finite-difference reruns reuse it
	stepper *Stepper

	prePositions            []float64
	preVelocities           []float64
	preForces               []float64
	preConstraintVelocities []float64
	postPositions           []float64
	postVelocities          []float64
	postForces              []float64

	clamping           []*DifferentiableContactConstraint
	clampingImpulses   []float64
	clampingDirs       [][]float64
	upperBound         []*DifferentiableContactConstraint
	upperBoundImpulses []float64
	upperBoundDirs     [][]float64
	boundMap           *mat.Dense

	massMatrix    *mat.Dense
	invMassMatrix *mat.Dense
	lin           *linearization
	velVel        *mat.Dense
	forceVel      *mat.Dense
	posVel        *mat.Dense
}

func newSnapshot(st *Stepper, w *simulation.World, q, v, tau, vStar, qNext, vNext []float64) *BackpropSnapshot {
	s := &BackpropSnapshot{
		stepper:                 st,
		numDofs:                 w.NumDofs(),
		timeStep:                w.TimeStep(),
		layout:                  make(map[string]dofRange, w.NumSkeletons()),
		prePositions:            q,
		preVelocities:           v,
		preForces:               tau,
		preConstraintVelocities: vStar,
		postPositions:           qNext,
		postVelocities:          vNext,
		postForces:              append([]float64(nil), tau...),
	}
	for _, skel := range w.Skeletons() {
		s.layout[skel.Name()] = dofRange{offset: w.DofOffset(skel), count: skel.NumDofs()}
	}
	return s
}

func (s *BackpropSnapshot) addClamping(c *DifferentiableContactConstraint, impulse float64, dir []float64) {
	s.clamping = append(s.clamping, c)
	s.clampingImpulses = append(s.clampingImpulses, impulse)
	s.clampingDirs = append(s.clampingDirs, dir)
}

func (s *BackpropSnapshot) addUpperBound(c *DifferentiableContactConstraint, impulse float64, dir []float64) {
	s.upperBound = append(s.upperBound, c)
	s.upperBoundImpulses = append(s.upperBoundImpulses, impulse)
	s.upperBoundDirs = append(s.upperBoundDirs, dir)
}

func (s *BackpropSnapshot) NumDofs() int      { return s.numDofs }
func (s *BackpropSnapshot) TimeStep() float64 { return s.timeStep }

func (s *BackpropSnapshot) PreStepPosition() []float64       { return clone(s.prePositions) }
func (s *BackpropSnapshot) PreStepVelocity() []float64       { return clone(s.preVelocities) }
func (s *BackpropSnapshot) PreStepTorques() []float64        { return clone(s.preForces) }
func (s *BackpropSnapshot) PreConstraintVelocity() []float64 { return clone(s.preConstraintVelocities) }
func (s *BackpropSnapshot) PostStepPosition() []float64      { return clone(s.postPositions) }
func (s *BackpropSnapshot) PostStepVelocity() []float64      { return clone(s.postVelocities) }
func (s *BackpropSnapshot) PostStepTorques() []float64       { return clone(s.postForces) }

func (s *BackpropSnapshot) ClampingConstraints() []*DifferentiableContactConstraint {
	return s.clamping
}

func (s *BackpropSnapshot) UpperBoundConstraints() []*DifferentiableContactConstraint {
	return s.upperBound
}

func (s *BackpropSnapshot) ClampingImpulses() []float64   { return clone(s.clampingImpulses) }
func (s *BackpropSnapshot) UpperBoundImpulses() []float64 { return clone(s.upperBoundImpulses) }

// BoundMap is E, upper-bound rows by clamping rows.
func (s *BackpropSnapshot) BoundMap() *mat.Dense { return s.boundMap }

func (s *BackpropSnapshot) NumActiveConstraints() int {
	return len(s.clamping) + len(s.upperBound)
}

// WorldConstraintForces is the generalized constraint force of the step,
// Σ xᵢ aᵢ / Δt.
func (s *BackpropSnapshot) WorldConstraintForces() []float64 {
	out := make([]float64, s.numDofs)
	accumulate := func(x []float64, dirs [][]float64) {
		for k, dir := range dirs {
			for i, a := range dir {
				out[i] += x[k] * a / s.timeStep
			}
		}
	}
	accumulate(s.clampingImpulses, s.clampingDirs)
	accumulate(s.upperBoundImpulses, s.upperBoundDirs)
	return out
}

// ConstraintForces is WorldConstraintForces restricted to skel's dofs.
func (s *BackpropSnapshot) ConstraintForces(skel *dynamics.Skeleton) []float64 {
	r, ok := s.layout[skel.Name()]
	if !ok {
		panic(fmt.Sprintf("neural: skeleton %q was not in the snapshot's world", skel.Name()))
	}
	return s.WorldConstraintForces()[r.offset : r.offset+r.count]
}

// atPreStep runs fn with w set to the state before the step.
func (s *BackpropSnapshot) atPreStep(w *simulation.World, fn func() error) error {
	if w.NumDofs() != s.numDofs {
		return fmt.Errorf("%w: world has %d dofs, snapshot %d", dynamo.ErrDimensionMismatch, w.NumDofs(), s.numDofs)
	}
	return simulation.Preserve(w, func() error {
		w.SetPositions(s.prePositions)
		w.SetVelocities(s.preVelocities)
		w.SetForces(s.preForces)
		w.SetTimeStep(s.timeStep)
		return fn()
	})
}

func (s *BackpropSnapshot) MassMatrix(w *simulation.World) (*mat.Dense, error) {
	if s.massMatrix != nil {
		return s.massMatrix, nil
	}
	err := s.atPreStep(w, func() error {
		s.massMatrix = w.MassMatrix()
		return nil
	})
	return s.massMatrix, err
}

func (s *BackpropSnapshot) InvMassMatrix(w *simulation.World) (*mat.Dense, error) {
	if s.invMassMatrix != nil {
		return s.invMassMatrix, nil
	}
	err := s.atPreStep(w, func() error {
		inv, err := w.InvMassMatrix()
		s.invMassMatrix = inv
		return err
	})
	return s.invMassMatrix, err
}

// linearization holds the pieces shared by every Jacobian: with
// B = A_c + A_ub E and Q = A_cᵀ M⁻¹ B, P = I - M⁻¹ B Q⁻¹ A_cᵀ projects
// velocities onto the clamping constraint manifold.
type linearization struct {
	minv  *mat.Dense
	b     *mat.Dense
	minvB *mat.Dense
	qinv  *mat.Dense
	p     *mat.Dense
}

func (s *BackpropSnapshot) linearize(w *simulation.World) (*linearization, error) {
	if s.lin != nil {
		return s.lin, nil
	}
	minv, err := s.InvMassMatrix(w)
	if err != nil {
		return nil, err
	}
	n := s.numDofs
	lin := &linearization{minv: minv, p: identity(n)}
	nc := len(s.clamping)
	if nc == 0 {
		s.lin = lin
		return lin, nil
	}

	ac := columns(n, s.clampingDirs)
	b := mat.DenseCopyOf(ac)
	if len(s.upperBound) > 0 {
		var aubE mat.Dense
		aubE.Mul(columns(n, s.upperBoundDirs), s.boundMap)
		b.Add(b, &aubE)
	}
	lin.b = b

	lin.minvB = new(mat.Dense)
	lin.minvB.Mul(minv, b)
	var q mat.Dense
	q.Mul(ac.T(), lin.minvB)
	lin.qinv = invertOrPseudo(&q)

	var gain, proj mat.Dense
	gain.Mul(lin.minvB, lin.qinv)
	proj.Mul(&gain, ac.T())
	lin.p.Sub(lin.p, &proj)

	s.lin = lin
	return lin, nil
}

// VelVelJacobian is ∂v'/∂v = P (I - Δt M⁻¹ ∂c/∂v).
func (s *BackpropSnapshot) VelVelJacobian(w *simulation.World) (*mat.Dense, error) {
	if s.velVel != nil {
		return s.velVel, nil
	}
	if s.numDofs == 0 {
		return &mat.Dense{}, nil
	}
	lin, err := s.linearize(w)
	if err != nil {
		return nil, err
	}
	var dcdv *mat.Dense
	err = s.atPreStep(w, func() error {
		var err error
		dcdv, err = w.CoriolisAndGravityWrtVelocity()
		return err
	})
	if err != nil {
		return nil, err
	}

	var smooth mat.Dense
	smooth.Mul(lin.minv, dcdv)
	smooth.Scale(-s.timeStep, &smooth)
	smooth.Add(identity(s.numDofs), &smooth)

	s.velVel = new(mat.Dense)
	s.velVel.Mul(lin.p, &smooth)
	return s.velVel, nil
}

// ForceVelJacobian is ∂v'/∂τ = Δt P M⁻¹.
func (s *BackpropSnapshot) ForceVelJacobian(w *simulation.World) (*mat.Dense, error) {
	if s.forceVel != nil {
		return s.forceVel, nil
	}
	if s.numDofs == 0 {
		return &mat.Dense{}, nil
	}
	lin, err := s.linearize(w)
	if err != nil {
		return nil, err
	}
	s.forceVel = new(mat.Dense)
	s.forceVel.Mul(lin.p, lin.minv)
	s.forceVel.Scale(s.timeStep, s.forceVel)
	return s.forceVel, nil
}

// PosVelJacobian is ∂v'/∂q. Contact geometry moves with q, so besides the
// smooth terms it carries the constraint force Jacobians of every active row
// and the change of the clamping impulses they cause.
func (s *BackpropSnapshot) PosVelJacobian(w *simulation.World) (*mat.Dense, error) {
	if s.posVel != nil {
		return s.posVel, nil
	}
	n := s.numDofs
	if n == 0 {
		return &mat.Dense{}, nil
	}
	lin, err := s.linearize(w)
	if err != nil {
		return nil, err
	}

	var dMinvY, dcdq *mat.Dense
	forceJac := mat.NewDense(n, n, nil)
	clampJacs := make([]*mat.Dense, len(s.clamping))
	err = s.atPreStep(w, func() error {
		c := w.CoriolisAndGravity()
		y := make([]float64, n)
		for i := range y {
			y[i] = s.timeStep * (s.preForces[i] - c[i])
		}
		if lin.b != nil {
			for k, x := range s.clampingImpulses {
				for i := 0; i < n; i++ {
					y[i] += lin.b.At(i, k) * x
				}
			}
		}

		var err error
		if dMinvY, err = w.InvMassProductWrtPosition(y); err != nil {
			return err
		}
		if dcdq, err = w.CoriolisAndGravityWrtPosition(); err != nil {
			return err
		}

		for k, cons := range s.clamping {
			clampJacs[k] = cons.ConstraintForcesJacobian(w)
			addScaled(forceJac, s.clampingImpulses[k], clampJacs[k])
		}
		for k, cons := range s.upperBound {
			addScaled(forceJac, s.upperBoundImpulses[k], cons.ConstraintForcesJacobian(w))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// G: derivative of v' with the clamping impulses held fixed
	var smooth, geom, g mat.Dense
	smooth.Mul(lin.minv, dcdq)
	smooth.Scale(-s.timeStep, &smooth)
	geom.Mul(lin.minv, forceJac)
	g.Add(dMinvY, &smooth)
	g.Add(&g, &geom)

	s.posVel = new(mat.Dense)
	s.posVel.Mul(lin.p, &g)

	if nc := len(s.clamping); nc > 0 {
		r := mat.NewDense(nc, n, nil)
		vNext := mat.NewVecDense(n, clone(s.postVelocities))
		for k, jac := range clampJacs {
			var row mat.VecDense
			row.MulVec(jac.T(), vNext)
			for j := 0; j < n; j++ {
				r.Set(k, j, row.AtVec(j))
			}
		}
		var gain, corr mat.Dense
		gain.Mul(lin.minvB, lin.qinv)
		corr.Mul(&gain, r)
		s.posVel.Sub(s.posVel, &corr)
	}
	return s.posVel, nil
}

// PosPosJacobian is ∂q'/∂q = I + Δt ∂v'/∂q.
func (s *BackpropSnapshot) PosPosJacobian(w *simulation.World) (*mat.Dense, error) {
	pv, err := s.PosVelJacobian(w)
	if err != nil || s.numDofs == 0 {
		return pv, err
	}
	out := identity(s.numDofs)
	addScaled(out, s.timeStep, pv)
	return out, nil
}

// VelPosJacobian is ∂q'/∂v = Δt ∂v'/∂v.
func (s *BackpropSnapshot) VelPosJacobian(w *simulation.World) (*mat.Dense, error) {
	vv, err := s.VelVelJacobian(w)
	if err != nil || s.numDofs == 0 {
		return vv, err
	}
	var out mat.Dense
	out.Scale(s.timeStep, vv)
	return &out, nil
}

// ForcePosJacobian is ∂q'/∂τ = Δt ∂v'/∂τ.
func (s *BackpropSnapshot) ForcePosJacobian(w *simulation.World) (*mat.Dense, error) {
	fv, err := s.ForceVelJacobian(w)
	if err != nil || s.numDofs == 0 {
		return fv, err
	}
	var out mat.Dense
	out.Scale(s.timeStep, fv)
	return &out, nil
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func columns(n int, dirs [][]float64) *mat.Dense {
	m := mat.NewDense(n, len(dirs), nil)
	for k, dir := range dirs {
		for i, a := range dir {
			m.Set(i, k, a)
		}
	}
	return m
}

func addScaled(dst *mat.Dense, alpha float64, src mat.Matrix) {
	var tmp mat.Dense
	tmp.Scale(alpha, src)
	dst.Add(dst, &tmp)
}

// invertOrPseudo inverts a, falling back to the Moore-Penrose pseudo-inverse
// when a is singular.
func invertOrPseudo(a *mat.Dense) *mat.Dense {
	var inv mat.Dense
	if err := inv.Inverse(a); err == nil {
		return &inv
	}
	r, c := a.Dims()
	out := mat.NewDense(c, r, nil)
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return out
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)
	rank := svd.Rank(1e-12)
	for k := 0; k < rank; k++ {
		inv := 1 / values[k]
		for i := 0; i < c; i++ {
			for j := 0; j < r; j++ {
				out.Set(i, j, out.At(i, j)+inv*v.At(i, k)*u.At(j, k))
			}
		}
	}
	return out
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
