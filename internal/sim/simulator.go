package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/diffdyn/internal/controllers"
	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/simulation"
)

// Simulator rolls a world forward with a stepper. A nil stepper uses
// neural.NewStepper. Without a controller the world's torques stay fixed.
type Simulator struct {
	world      *simulation.World
	stepper    *neural.Stepper
	controller controllers.Controller
	metrics    []dynamo.Metric
	observers  []dynamo.Observer
}

func New(w *simulation.World, stepper *neural.Stepper) *Simulator {
	if stepper == nil {
		stepper = neural.NewStepper()
	}
	return &Simulator{
		world:     w,
		stepper:   stepper,
		metrics:   make([]dynamo.Metric, 0),
		observers: make([]dynamo.Observer, 0),
	}
}

func (s *Simulator) World() *simulation.World      { return s.world }
func (s *Simulator) AddMetric(m dynamo.Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o dynamo.Observer) { s.observers = append(s.observers, o) }

func (s *Simulator) SetController(c controllers.Controller) { s.controller = c }

// Run advances the world cfg.Steps times. On failure it returns the partial
// result together with the error.
func (s *Simulator) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := s.validateConfig(cfg); err != nil {
		return nil, err
	}

	w := s.world
	result := &Result{
		Times:      make([]float64, 0, cfg.Steps+1),
		Positions:  make([]dynamo.Vector, 0, cfg.Steps+1),
		Velocities: make([]dynamo.Vector, 0, cfg.Steps+1),
		Samples:    make([]dynamo.Sample, 0, cfg.Steps),
		Metrics:    make(map[string]float64),
	}

	for _, m := range s.metrics {
		m.Reset()
	}
	if s.controller != nil {
		s.controller.Reset()
	}

	s.record(result)
	initialEnergy := w.KineticEnergy() + w.PotentialEnergy()

	var runErr error
	for i := 0; i < cfg.Steps; i++ {
		select {
		case <-ctx.Done():
			runErr = fmt.Errorf("%w: %w", dynamo.ErrContextCanceled, ctx.Err())
		default:
		}
		if runErr != nil {
			break
		}

		if err := s.applyController(); err != nil {
			runErr = &dynamo.SimulationError{Step: w.Steps(), Time: w.Time(), State: w.Positions(), Wrapped: err}
			break
		}

		snap, err := s.stepper.ForwardPass(w, true)
		if err != nil {
			runErr = &dynamo.SimulationError{Step: w.Steps(), Time: w.Time(), State: w.Positions(), Wrapped: err}
			break
		}

		if v := dynamo.Vector(w.Velocities()); cfg.MaxSpeed > 0 && v.MaxAbs() > cfg.MaxSpeed {
			runErr = &dynamo.SimulationError{Step: w.Steps(), Time: w.Time(), State: w.Positions(), Wrapped: dynamo.ErrUnstable}
			break
		}

		sample := Sample(w, snap)
		for _, m := range s.metrics {
			m.Observe(sample)
		}
		for _, obs := range s.observers {
			obs.OnStep(sample)
		}

		result.Samples = append(result.Samples, sample)
		if cfg.Backprop {
			result.Snapshots = append(result.Snapshots, snap)
		}
		result.StepsTaken++
		s.record(result)
	}

	finalEnergy := w.KineticEnergy() + w.PotentialEnergy()
	if initialEnergy != 0 {
		result.EnergyDrift = math.Abs(finalEnergy-initialEnergy) / math.Abs(initialEnergy)
	}
	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}

	if runErr != nil {
		slog.Warn("rollout stopped", "world", w.Name(), "steps", result.StepsTaken, "error", runErr)
		return result, runErr
	}
	slog.Debug("rollout finished", "world", w.Name(), "steps", result.StepsTaken, "energy_drift", result.EnergyDrift)
	return result, nil
}

// applyController sets the world's torques from the pre-step state.
func (s *Simulator) applyController() error {
	if s.controller == nil {
		return nil
	}
	tau, err := s.controller.Compute(Sample(s.world, nil))
	if err != nil {
		return err
	}
	if len(tau) != s.world.NumDofs() {
		return fmt.Errorf("%w: controller returned %d torques for %d dofs", dynamo.ErrDimensionMismatch, len(tau), s.world.NumDofs())
	}
	s.world.SetForces(tau)
	return nil
}

func (s *Simulator) validateConfig(cfg Config) error {
	if cfg.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", cfg.Steps)
	}
	if dt := s.world.TimeStep(); dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", dt)
	}
	return nil
}

func (s *Simulator) record(r *Result) {
	r.Times = append(r.Times, s.world.Time())
	r.Positions = append(r.Positions, s.world.Positions())
	r.Velocities = append(r.Velocities, s.world.Velocities())
}

// Sample summarizes the state of w right after the step recorded in snap.
func Sample(w *simulation.World, snap *neural.BackpropSnapshot) dynamo.Sample {
	out := dynamo.Sample{
		Step:            w.Steps(),
		Time:            w.Time(),
		Positions:       w.Positions(),
		Velocities:      w.Velocities(),
		Forces:          w.Forces(),
		KineticEnergy:   w.KineticEnergy(),
		PotentialEnergy: w.PotentialEnergy(),
	}
	if snap == nil {
		return out
	}

	out.Clamping = len(snap.ClampingConstraints())
	out.UpperBound = len(snap.UpperBoundConstraints())
	out.MaxImpulse = math.Max(
		dynamo.Vector(snap.ClampingImpulses()).MaxAbs(),
		dynamo.Vector(snap.UpperBoundImpulses()).MaxAbs(),
	)
	for _, c := range snap.ClampingConstraints() {
		if c.Constraint().Kind != neural.ContactKind || c.IndexInConstraint() != 0 {
			continue
		}
		out.Contacts++
		out.MaxPenetration = math.Max(out.MaxPenetration, c.Contact().Depth)
	}
	return out
}

// Backprop pushes the loss gradient of the final state back through every
// recorded step. The run must have been made with Config.Backprop.
func (s *Simulator) Backprop(r *Result, final neural.LossGradient) (*TrajectoryGradient, error) {
	if len(r.Snapshots) != r.StepsTaken {
		return nil, fmt.Errorf("result holds %d snapshots for %d steps; run with Backprop enabled", len(r.Snapshots), r.StepsTaken)
	}

	out := &TrajectoryGradient{Torques: make([][]float64, len(r.Snapshots))}
	g := final
	for k := len(r.Snapshots) - 1; k >= 0; k-- {
		prev, err := r.Snapshots[k].Backprop(s.world, g)
		if err != nil {
			return nil, fmt.Errorf("backprop through step %d: %w", k, err)
		}
		out.Torques[k] = prev.Torque
		g = prev
	}
	out.Position = g.Position
	out.Velocity = g.Velocity
	return out, nil
}

// RunWithCallback steps until callback returns false or steps run out.
func (s *Simulator) RunWithCallback(ctx context.Context, steps int, callback func(dynamo.Sample) bool) error {
	if err := s.validateConfig(Config{Steps: steps}); err != nil {
		return err
	}

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", dynamo.ErrContextCanceled, ctx.Err())
		default:
		}

		if err := s.applyController(); err != nil {
			return err
		}
		snap, err := s.stepper.ForwardPass(s.world, true)
		if err != nil {
			return err
		}
		if !callback(Sample(s.world, snap)) {
			return nil
		}
	}
	return nil
}
