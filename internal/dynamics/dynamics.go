package dynamics

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/diffdyn/internal/spatial"
	"gonum.org/v1/gonum/mat"
)

// bodyState is the COM-level kinematics of one body at the current state.
type bodyState struct {
	com      mgl64.Vec3
	inertia  mgl64.Mat3
	omega    mgl64.Vec3
	comVel   mgl64.Vec3
	alpha    mgl64.Vec3
	accBias  mgl64.Vec3
	linCols  []mgl64.Vec3
	angCols  []mgl64.Vec3
	dofIndex []int
}

// screwRates returns, per dof, the time derivative of its world screw axis
// at the current velocities.
func (s *Skeleton) screwRates() []spatial.Vec6 {
	s.update()
	rates := make([]spatial.Vec6, len(s.dofs))
	for j := range s.dofs {
		for _, i := range s.dofAncestors[j] {
			rates[j] = rates[j].Add(spatial.Ad(s.screwAxes[i], s.screwAxes[j]).Scale(s.dofs[i].velocity))
		}
	}
	return rates
}

func (s *Skeleton) bodyStates(withBias bool) []bodyState {
	s.update()
	var rates []spatial.Vec6
	if withBias {
		rates = s.screwRates()
	}

	out := make([]bodyState, len(s.bodies))
	for b, body := range s.bodies {
		tf := s.transforms[b]
		x := tf.TransformPoint(body.com)
		r := tf.R
		st := bodyState{
			com:      x,
			inertia:  r.Mul3(body.inertia).Mul3(r.Transpose()),
			dofIndex: s.bodyDofs[b],
		}

		var twist, bias spatial.Vec6
		for _, j := range st.dofIndex {
			w := s.screwAxes[j]
			st.angCols = append(st.angCols, w.Angular())
			st.linCols = append(st.linCols, spatial.GradientWrtTheta(w, x))
			twist = twist.Add(w.Scale(s.dofs[j].velocity))
			if withBias {
				bias = bias.Add(rates[j].Scale(s.dofs[j].velocity))
			}
		}
		st.omega = twist.Angular()
		st.comVel = spatial.GradientWrtTheta(twist, x)
		st.alpha = bias.Angular()
		st.accBias = spatial.GradientWrtTheta(bias, x).Add(st.omega.Cross(st.comVel))
		out[b] = st
	}
	return out
}

// MassMatrix assembles M(q) = Σ m Jvᵀ Jv + Jωᵀ I Jω over all bodies. It is
// nil for a skeleton without dofs.
func (s *Skeleton) MassMatrix() *mat.SymDense {
	n := len(s.dofs)
	if n == 0 {
		return nil
	}
	m := mat.NewSymDense(n, nil)
	for b, st := range s.bodyStates(false) {
		mass := s.bodies[b].mass
		for a, i := range st.dofIndex {
			iw := st.inertia.Mul3x1(st.angCols[a])
			for c := a; c < len(st.dofIndex); c++ {
				j := st.dofIndex[c]
				v := mass*st.linCols[a].Dot(st.linCols[c]) + iw.Dot(st.angCols[c])
				m.SetSym(i, j, m.At(i, j)+v)
			}
		}
	}
	return m
}

// CoriolisAndGravity returns c(q, q̇) such that M q̈ + c = τ.
func (s *Skeleton) CoriolisAndGravity(gravity mgl64.Vec3) []float64 {
	c := make([]float64, len(s.dofs))
	for b, st := range s.bodyStates(true) {
		mass := s.bodies[b].mass
		force := st.accBias.Sub(gravity).Mul(mass)
		torque := st.inertia.Mul3x1(st.alpha).Add(st.omega.Cross(st.inertia.Mul3x1(st.omega)))
		for a, j := range st.dofIndex {
			c[j] += st.linCols[a].Dot(force) + st.angCols[a].Dot(torque)
		}
	}
	return c
}

func (s *Skeleton) KineticEnergy() float64 {
	e := 0.0
	for b, st := range s.bodyStates(false) {
		e += 0.5*s.bodies[b].mass*st.comVel.Dot(st.comVel) + 0.5*st.omega.Dot(st.inertia.Mul3x1(st.omega))
	}
	return e
}

func (s *Skeleton) PotentialEnergy(gravity mgl64.Vec3) float64 {
	e := 0.0
	for _, body := range s.bodies {
		e -= body.mass * gravity.Dot(body.WorldCOM())
	}
	return e
}
