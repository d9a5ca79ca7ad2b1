package simulation

import "gonum.org/v1/gonum/mat"

// Step used for the central differences of the smooth dynamics terms. c(q, q̇)
// is quadratic in q̇, so the velocity derivative is exact up to round-off.
const SmoothEpsilon = 1e-6

type stateAccess struct {
	read  func(*World) []float64
	write func(*World, []float64)
}

var (
	positionAccess = stateAccess{(*World).Positions, (*World).SetPositions}
	velocityAccess = stateAccess{(*World).Velocities, (*World).SetVelocities}
)

// centralDifference returns the n x numDofs Jacobian of eval with respect to
// the state selected by access. The world is restored afterwards.
func (w *World) centralDifference(access stateAccess, eval func() ([]float64, error)) (*mat.Dense, error) {
	n := max(w.numDofs, 1)
	jac := mat.NewDense(n, n, nil)
	err := Preserve(w, func() error {
		base := access.read(w)
		for j := range base {
			x := append([]float64(nil), base...)

			x[j] = base[j] + SmoothEpsilon
			access.write(w, x)
			plus, err := eval()
			if err != nil {
				return err
			}

			x[j] = base[j] - SmoothEpsilon
			access.write(w, x)
			minus, err := eval()
			if err != nil {
				return err
			}

			for i := range plus {
				jac.Set(i, j, (plus[i]-minus[i])/(2*SmoothEpsilon))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jac, nil
}

// InvMassProductWrtPosition returns ∂(M(q)⁻¹ y)/∂q holding y fixed.
func (w *World) InvMassProductWrtPosition(y []float64) (*mat.Dense, error) {
	fixed := append([]float64(nil), y...)
	return w.centralDifference(positionAccess, func() ([]float64, error) {
		return w.SolveMass(fixed)
	})
}

// CoriolisAndGravityWrtPosition returns ∂c/∂q.
func (w *World) CoriolisAndGravityWrtPosition() (*mat.Dense, error) {
	return w.centralDifference(positionAccess, func() ([]float64, error) {
		return w.CoriolisAndGravity(), nil
	})
}

// CoriolisAndGravityWrtVelocity returns ∂c/∂q̇.
func (w *World) CoriolisAndGravityWrtVelocity() (*mat.Dense, error) {
	return w.centralDifference(velocityAccess, func() ([]float64, error) {
		return w.CoriolisAndGravity(), nil
	})
}
