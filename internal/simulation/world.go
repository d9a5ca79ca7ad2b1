package simulation

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrDuplicateSkeleton = errors.New("simulation: skeleton name already in world")
	ErrSingularMass      = errors.New("simulation: mass matrix is not positive definite")
)

const (
	DefaultTimeStep = 0.01
	DefaultGravity  = -9.81
)

// World owns an ordered list of skeletons and aggregates their state into
// world-level vectors, skeleton blocks laid out in insertion order.
type World struct {
	name      string
	skeletons []*dynamics.Skeleton
	offsets   []int
	numDofs   int
	gravity   mgl64.Vec3
	timeStep  float64
	time      float64
	steps     int
	friction  float64
}

func NewWorld(name string) *World {
	return &World{
		name:     name,
		gravity:  mgl64.Vec3{0, DefaultGravity, 0},
		timeStep: DefaultTimeStep,
	}
}

func (w *World) Name() string                    { return w.name }
func (w *World) Gravity() mgl64.Vec3             { return w.gravity }
func (w *World) SetGravity(g mgl64.Vec3)         { w.gravity = g }
func (w *World) TimeStep() float64               { return w.timeStep }
func (w *World) SetTimeStep(dt float64)          { w.timeStep = dt }
func (w *World) Time() float64                   { return w.time }
func (w *World) SetTime(t float64)               { w.time = t }
func (w *World) Steps() int                      { return w.steps }
func (w *World) FrictionCoeff() float64          { return w.friction }
func (w *World) SetFrictionCoeff(mu float64)     { w.friction = mu }
func (w *World) NumDofs() int                    { return w.numDofs }
func (w *World) NumSkeletons() int               { return len(w.skeletons) }
func (w *World) Skeletons() []*dynamics.Skeleton { return w.skeletons }

// Advance moves the clock forward by one time step.
func (w *World) Advance() {
	w.time += w.timeStep
	w.steps++
}

func (w *World) AddSkeleton(s *dynamics.Skeleton) error {
	if w.Skeleton(s.Name()) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateSkeleton, s.Name())
	}
	w.skeletons = append(w.skeletons, s)
	w.offsets = append(w.offsets, w.numDofs)
	w.numDofs += s.NumDofs()
	return nil
}

func (w *World) Skeleton(name string) *dynamics.Skeleton {
	for _, s := range w.skeletons {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// SkeletonIndex returns -1 for a skeleton that is not in the world.
func (w *World) SkeletonIndex(s *dynamics.Skeleton) int {
	for i, other := range w.skeletons {
		if other == s {
			return i
		}
	}
	return -1
}

// DofOffset is the world index of the skeleton's first dof.
func (w *World) DofOffset(s *dynamics.Skeleton) int {
	i := w.SkeletonIndex(s)
	if i < 0 {
		panic(fmt.Sprintf("simulation: skeleton %q is not in world %q", s.Name(), w.name))
	}
	return w.offsets[i]
}

// WorldIndex maps a dof to its position in world-level vectors.
func (w *World) WorldIndex(d *dynamics.Dof) int {
	return w.DofOffset(d.Skeleton()) + d.IndexInSkeleton()
}

// Dof returns the dof at world index i.
func (w *World) Dof(i int) *dynamics.Dof {
	for k, s := range w.skeletons {
		if i >= w.offsets[k] && i < w.offsets[k]+s.NumDofs() {
			return s.Dof(i - w.offsets[k])
		}
	}
	panic(fmt.Sprintf("simulation: dof index %d out of range [0, %d)", i, w.numDofs))
}

func (w *World) Dofs() []*dynamics.Dof {
	out := make([]*dynamics.Dof, 0, w.numDofs)
	for _, s := range w.skeletons {
		out = append(out, s.Dofs()...)
	}
	return out
}

func (w *World) gather(get func(*dynamics.Skeleton) []float64) []float64 {
	out := make([]float64, 0, w.numDofs)
	for _, s := range w.skeletons {
		out = append(out, get(s)...)
	}
	return out
}

func (w *World) scatter(v []float64, set func(*dynamics.Skeleton, []float64)) {
	if len(v) != w.numDofs {
		panic(fmt.Sprintf("simulation: world has %d dofs, got vector of length %d", w.numDofs, len(v)))
	}
	for k, s := range w.skeletons {
		set(s, v[w.offsets[k]:w.offsets[k]+s.NumDofs()])
	}
}

func (w *World) Positions() []float64 {
	return w.gather((*dynamics.Skeleton).Positions)
}

func (w *World) SetPositions(q []float64) {
	w.scatter(q, (*dynamics.Skeleton).SetPositions)
}

func (w *World) Velocities() []float64 {
	return w.gather((*dynamics.Skeleton).Velocities)
}

func (w *World) SetVelocities(v []float64) {
	w.scatter(v, (*dynamics.Skeleton).SetVelocities)
}

func (w *World) Forces() []float64 {
	return w.gather((*dynamics.Skeleton).Forces)
}

func (w *World) SetForces(f []float64) {
	w.scatter(f, (*dynamics.Skeleton).SetForces)
}

// MassMatrix is the block-diagonal world mass matrix.
func (w *World) MassMatrix() *mat.Dense {
	n := max(w.numDofs, 1)
	m := mat.NewDense(n, n, nil)
	for k, s := range w.skeletons {
		block := s.MassMatrix()
		if block == nil {
			continue
		}
		off := w.offsets[k]
		for i := 0; i < s.NumDofs(); i++ {
			for j := 0; j < s.NumDofs(); j++ {
				m.Set(off+i, off+j, block.At(i, j))
			}
		}
	}
	return m
}

func (w *World) factorize() ([]*mat.Cholesky, error) {
	out := make([]*mat.Cholesky, len(w.skeletons))
	for k, s := range w.skeletons {
		block := s.MassMatrix()
		if block == nil {
			continue
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(block); !ok {
			return nil, fmt.Errorf("%w: skeleton %s", ErrSingularMass, s.Name())
		}
		out[k] = &chol
	}
	return out, nil
}

// InvMassMatrix inverts each skeleton block through its Cholesky factor.
func (w *World) InvMassMatrix() (*mat.Dense, error) {
	chols, err := w.factorize()
	if err != nil {
		return nil, err
	}
	n := max(w.numDofs, 1)
	inv := mat.NewDense(n, n, nil)
	for k, s := range w.skeletons {
		if chols[k] == nil {
			continue
		}
		var block mat.SymDense
		if err := chols[k].InverseTo(&block); err != nil {
			return nil, fmt.Errorf("%w: skeleton %s", ErrSingularMass, s.Name())
		}
		off := w.offsets[k]
		for i := 0; i < s.NumDofs(); i++ {
			for j := 0; j < s.NumDofs(); j++ {
				inv.Set(off+i, off+j, block.At(i, j))
			}
		}
	}
	return inv, nil
}

// MassFactor holds the Cholesky factor of every skeleton's mass block at the
// pose it was taken. It goes stale as soon as positions change.
type MassFactor struct {
	w     *World
	chols []*mat.Cholesky
}

// FactorMass factorizes the mass matrix at the current pose.
func (w *World) FactorMass() (*MassFactor, error) {
	chols, err := w.factorize()
	if err != nil {
		return nil, err
	}
	return &MassFactor{w: w, chols: chols}, nil
}

// Solve returns M⁻¹ y.
func (f *MassFactor) Solve(y []float64) ([]float64, error) {
	w := f.w
	out := make([]float64, w.numDofs)
	for k, s := range w.skeletons {
		if f.chols[k] == nil {
			continue
		}
		off := w.offsets[k]
		n := s.NumDofs()
		rhs := mat.NewVecDense(n, append([]float64(nil), y[off:off+n]...))
		var x mat.VecDense
		if err := f.chols[k].SolveVecTo(&x, rhs); err != nil {
			return nil, fmt.Errorf("%w: skeleton %s", ErrSingularMass, s.Name())
		}
		for i := 0; i < n; i++ {
			out[off+i] = x.AtVec(i)
		}
	}
	return out, nil
}

// SolveMass returns M⁻¹ y. Callers solving several right-hand sides at one
// pose should use FactorMass.
func (w *World) SolveMass(y []float64) ([]float64, error) {
	f, err := w.FactorMass()
	if err != nil {
		return nil, err
	}
	return f.Solve(y)
}

func (w *World) CoriolisAndGravity() []float64 {
	return w.gather(func(s *dynamics.Skeleton) []float64 {
		return s.CoriolisAndGravity(w.gravity)
	})
}

func (w *World) KineticEnergy() float64 {
	e := 0.0
	for _, s := range w.skeletons {
		e += s.KineticEnergy()
	}
	return e
}

func (w *World) PotentialEnergy() float64 {
	e := 0.0
	for _, s := range w.skeletons {
		e += s.PotentialEnergy(w.gravity)
	}
	return e
}
