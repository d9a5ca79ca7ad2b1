package gradcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/scenario"
	"github.com/san-kum/diffdyn/internal/simulation"
	"gonum.org/v1/gonum/mat"
)

const DefaultTolerance = 1e-4

var ErrUnknownKind = errors.New("gradcheck: unknown jacobian kind")

// Kind names a snapshot Jacobian.
type Kind string

const (
	VelVel   Kind = "vel-vel"
	ForceVel Kind = "force-vel"
	PosVel   Kind = "pos-vel"
	PosPos   Kind = "pos-pos"
	VelPos   Kind = "vel-pos"
)

func Kinds() []Kind {
	return []Kind{VelVel, ForceVel, PosVel, PosPos, VelPos}
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of %s)", ErrUnknownKind, s, strings.Join(kindNames(), ", "))
}

func kindNames() []string {
	names := make([]string, 0, len(Kinds()))
	for _, k := range Kinds() {
		names = append(names, string(k))
	}
	return names
}

// Check is one analytical-vs-numerical comparison.
type Check struct {
	Scenario string
	Name     string
	Rows     int
	Cols     int
	// MaxError is the largest entry of |analytic - numeric| / (1 + |numeric|).
	MaxError float64
	Passed   bool
	Err      error
}

type Report struct {
	Tolerance float64
	Checks    []Check
}

func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

func (r *Report) Failures() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// MaxError is the worst relative error over all checks that ran.
func (r *Report) MaxError() float64 {
	worst := 0.0
	for _, c := range r.Checks {
		if c.Err == nil {
			worst = math.Max(worst, c.MaxError)
		}
	}
	return worst
}

type Checker struct {
	Registry  *scenario.Registry
	Tolerance float64
	// Limit bounds how many scenarios are checked at once; zero means no
	// limit.
	Limit int
}

func NewChecker(reg *scenario.Registry) *Checker {
	return &Checker{Registry: reg, Tolerance: DefaultTolerance}
}

// Run checks the named scenarios, or every registered one when names is
// empty. Check failures land in the report; the error is reserved for
// scenarios that could not be built or stepped.
func (c *Checker) Run(ctx context.Context, names ...string) (*Report, error) {
	if len(names) == 0 {
		names = c.Registry.List()
	}
	perScenario := make([][]Check, len(names))
	err := dynamo.ParallelEach(ctx, len(names), c.Limit, func(ctx context.Context, i int) error {
		w, err := c.Registry.Build(names[i])
		if err != nil {
			return err
		}
		checks, err := CheckWorld(names[i], w, c.Tolerance)
		if err != nil {
			return fmt.Errorf("%s: %w", names[i], err)
		}
		perScenario[i] = checks
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &Report{Tolerance: c.Tolerance}
	for _, checks := range perScenario {
		report.Checks = append(report.Checks, checks...)
	}
	sort.SliceStable(report.Checks, func(i, j int) bool {
		return report.Checks[i].Scenario < report.Checks[j].Scenario
	})
	slog.Debug("gradient check", "scenarios", len(names), "checks", len(report.Checks), "passed", report.Passed())
	return report, nil
}

// Step runs one forward pass on w and leaves it at the pre-step state.
func Step(w *simulation.World) (*neural.BackpropSnapshot, error) {
	var snap *neural.BackpropSnapshot
	err := simulation.Preserve(w, func() error {
		var err error
		snap, err = neural.ForwardPass(w, true)
		return err
	})
	return snap, err
}

// Jacobians returns the analytical Jacobian of kind and its finite-difference
// counterpart for snap, which must have been taken at w's current state.
func Jacobians(w *simulation.World, snap *neural.BackpropSnapshot, kind Kind) (analytic, numeric *mat.Dense, err error) {
	switch kind {
	case VelVel:
		analytic, err = snap.VelVelJacobian(w)
		if err == nil {
			numeric, err = snap.FiniteDifferenceVelVelJacobian(w)
		}
	case ForceVel:
		analytic, err = snap.ForceVelJacobian(w)
		if err == nil {
			numeric, err = snap.FiniteDifferenceForceVelJacobian(w)
		}
	case PosVel:
		analytic, err = snap.PosVelJacobian(w)
		if err == nil {
			numeric, err = snap.FiniteDifferencePosVelJacobian(w)
		}
	case PosPos:
		analytic, err = snap.PosPosJacobian(w)
		if err == nil {
			numeric, err = snap.FiniteDifferencePosPosJacobian(w, 1)
		}
	case VelPos:
		analytic, err = snap.VelPosJacobian(w)
		if err == nil {
			numeric, err = snap.FiniteDifferenceVelPosJacobian(w, 1)
		}
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s jacobian: %w", kind, err)
	}
	return analytic, numeric, nil
}

// CheckWorld steps w once and compares every derivative of that step.
func CheckWorld(name string, w *simulation.World, tol float64) ([]Check, error) {
	snap, err := Step(w)
	if err != nil {
		return nil, err
	}

	var checks []Check
	for _, kind := range Kinds() {
		analytic, numeric, err := Jacobians(w, snap, kind)
		checks = append(checks, compare(name, string(kind), analytic, numeric, err, tol))
	}

	rows := append(append([]*neural.DifferentiableContactConstraint{}, snap.ClampingConstraints()...), snap.UpperBoundConstraints()...)
	for i, row := range rows {
		prefix := fmt.Sprintf("row %d (%s) ", i, row.Constraint().Kind)
		pairs := []struct {
			name     string
			analytic func() *mat.Dense
			numeric  func() (*mat.Dense, error)
		}{
			{"contact position", func() *mat.Dense { return row.WorldContactPositionJacobian(w) }, func() (*mat.Dense, error) { return row.BruteForceContactPositionJacobian(w) }},
			{"force direction", func() *mat.Dense { return row.WorldContactForceDirectionJacobian(w) }, func() (*mat.Dense, error) { return row.BruteForceContactForceDirectionJacobian(w) }},
			{"world force", func() *mat.Dense { return row.WorldContactForceJacobian(w) }, func() (*mat.Dense, error) { return row.BruteForceContactForceJacobian(w) }},
			{"constraint forces", func() *mat.Dense { return row.ConstraintForcesJacobian(w) }, func() (*mat.Dense, error) { return row.BruteForceConstraintForcesJacobian(w) }},
		}
		for _, p := range pairs {
			numeric, err := p.numeric()
			checks = append(checks, compare(name, prefix+p.name, p.analytic(), numeric, err, tol))
		}
	}
	return checks, nil
}

func compare(scenarioName, what string, analytic, numeric *mat.Dense, err error, tol float64) Check {
	c := Check{Scenario: scenarioName, Name: what, Err: err}
	if err != nil {
		return c
	}
	ar, ac := analytic.Dims()
	nr, nc := numeric.Dims()
	c.Rows, c.Cols = nr, nc
	if ar != nr || ac != nc {
		c.Err = fmt.Errorf("%w: analytic %dx%d, numeric %dx%d", dynamo.ErrDimensionMismatch, ar, ac, nr, nc)
		return c
	}
	c.MaxError = MaxRelativeError(analytic, numeric)
	c.Passed = c.MaxError <= tol
	return c
}

// MaxRelativeError is max |a - b| / (1 + |b|) over matching entries.
func MaxRelativeError(a, b mat.Matrix) float64 {
	r, cols := b.Dims()
	worst := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			ref := b.At(i, j)
			worst = math.Max(worst, math.Abs(a.At(i, j)-ref)/(1+math.Abs(ref)))
		}
	}
	return worst
}
