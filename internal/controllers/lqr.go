package controllers

import (
	"fmt"

	"github.com/san-kum/diffdyn/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// LQR is full-state feedback tau = -K (x - target) with x = [q; v].
type LQR struct {
	K      *mat.Dense
	Target []float64
}

func NewLQR(k *mat.Dense, target []float64) *LQR {
	return &LQR{K: k, Target: target}
}

func (l *LQR) Reset() {}

func (l *LQR) Compute(s dynamo.Sample) ([]float64, error) {
	n := len(s.Positions)
	rows, cols := l.K.Dims()
	if rows != n || cols != 2*n || len(l.Target) != 2*n {
		return nil, fmt.Errorf("%w: lqr gain %dx%d and target %d for %d dofs",
			dynamo.ErrDimensionMismatch, rows, cols, len(l.Target), n)
	}

	e := mat.NewVecDense(2*n, nil)
	for i := 0; i < n; i++ {
		e.SetVec(i, s.Positions[i]-l.Target[i])
		e.SetVec(n+i, s.Velocities[i]-l.Target[n+i])
	}
	var u mat.VecDense
	u.MulVec(l.K, e)

	tau := make([]float64, n)
	for i := range tau {
		tau[i] = -u.AtVec(i)
	}
	return tau, nil
}

// PDGain builds the diagonal gain K = [kp I, kd I] for n dofs.
func PDGain(n int, kp, kd float64) *mat.Dense {
	k := mat.NewDense(n, 2*n, nil)
	for i := 0; i < n; i++ {
		k.Set(i, i, kp)
		k.Set(i, n+i, kd)
	}
	return k
}
