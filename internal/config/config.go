package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/san-kum/diffdyn/internal/collision"
	"github.com/san-kum/diffdyn/internal/controllers"
	"github.com/san-kum/diffdyn/internal/dynamics"
	"github.com/san-kum/diffdyn/internal/lcp"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/simulation"
	"gopkg.in/yaml.v3"
)

const (
	DefaultScenario      = "ball_on_plane"
	DefaultDt            = 0.01
	DefaultSteps         = 200
	DefaultMaxIterations = 500
	DefaultTolerance     = 1e-9
	DefaultPolishPasses  = 6
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Scenario   string           `yaml:"scenario"`
	Dt         float64          `yaml:"dt"`
	Steps      int              `yaml:"steps"`
	Gravity    float64          `yaml:"gravity"`
	Friction   *float64         `yaml:"friction,omitempty"`
	Backprop   bool             `yaml:"backprop"`
	InitState  InitStateConfig  `yaml:"init_state"`
	Solver     SolverConfig     `yaml:"solver"`
	Collision  CollisionConfig  `yaml:"collision"`
	Controller ControllerConfig `yaml:"controller,omitempty"`
}

// InitStateConfig overrides scenario state. Keys are "skeleton/dof", e.g.
// "tongs/left_0".
type InitStateConfig struct {
	Positions  map[string]float64 `yaml:"positions,omitempty"`
	Velocities map[string]float64 `yaml:"velocities,omitempty"`
	Torques    map[string]float64 `yaml:"torques,omitempty"`
}

type SolverConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
	PolishPasses  int     `yaml:"polish_passes"`
	Fallback      bool    `yaml:"fallback"`
}

type CollisionConfig struct {
	Margin         float64 `yaml:"margin"`
	MaxPenetration float64 `yaml:"max_penetration"`
	SelfCollision  bool    `yaml:"self_collision"`
}

// ControllerConfig selects a torque controller. Type "pid" drives Dof toward
// Target; "pd" holds every dof at its initial position. Empty means fixed
// torques.
type ControllerConfig struct {
	Type   string  `yaml:"type,omitempty"`
	Dof    string  `yaml:"dof,omitempty"`
	Kp     float64 `yaml:"kp,omitempty"`
	Ki     float64 `yaml:"ki,omitempty"`
	Kd     float64 `yaml:"kd,omitempty"`
	Target float64 `yaml:"target,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Scenario: DefaultScenario,
		Dt:       DefaultDt,
		Steps:    DefaultSteps,
		Gravity:  simulation.DefaultGravity,
		Solver: SolverConfig{
			MaxIterations: DefaultMaxIterations,
			Tolerance:     DefaultTolerance,
			PolishPasses:  DefaultPolishPasses,
			Fallback:      true,
		},
		Collision: CollisionConfig{
			Margin:         collision.DefaultMargin,
			MaxPenetration: collision.DefaultMaxPenetration,
			SelfCollision:  true,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var problems []string
	if c.Scenario == "" {
		problems = append(problems, "scenario is empty")
	}
	if c.Dt <= 0 {
		problems = append(problems, fmt.Sprintf("dt must be positive, got %g", c.Dt))
	}
	if c.Steps <= 0 {
		problems = append(problems, fmt.Sprintf("steps must be positive, got %d", c.Steps))
	}
	if c.Friction != nil && *c.Friction < 0 {
		problems = append(problems, fmt.Sprintf("friction must be non-negative, got %g", *c.Friction))
	}
	if c.Solver.MaxIterations <= 0 || c.Solver.Tolerance <= 0 {
		problems = append(problems, "solver needs positive max_iterations and tolerance")
	}
	if c.Collision.Margin < 0 || c.Collision.MaxPenetration < 0 {
		problems = append(problems, "collision margins must be non-negative")
	}
	switch c.Controller.Type {
	case "", "pd":
	case "pid":
		if c.Controller.Dof == "" {
			problems = append(problems, "pid controller needs a dof")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown controller type %q", c.Controller.Type))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Apply writes the time step, gravity, friction and state overrides into w.
func (c *Config) Apply(w *simulation.World) error {
	w.SetTimeStep(c.Dt)
	g := w.Gravity()
	g[1] = c.Gravity
	w.SetGravity(g)
	if c.Friction != nil {
		w.SetFrictionCoeff(*c.Friction)
	}

	set := func(values map[string]float64, apply func(*dynamics.Dof, float64)) error {
		for key, v := range values {
			d, err := lookupDof(w, key)
			if err != nil {
				return err
			}
			apply(d, v)
		}
		return nil
	}
	if err := set(c.InitState.Positions, (*dynamics.Dof).SetPosition); err != nil {
		return err
	}
	if err := set(c.InitState.Velocities, (*dynamics.Dof).SetVelocity); err != nil {
		return err
	}
	return set(c.InitState.Torques, (*dynamics.Dof).SetForce)
}

func lookupDof(w *simulation.World, key string) (*dynamics.Dof, error) {
	skelName, dofName, ok := strings.Cut(key, "/")
	if !ok {
		return nil, fmt.Errorf("%w: dof key %q is not skeleton/dof", ErrInvalidConfig, key)
	}
	skel := w.Skeleton(skelName)
	if skel == nil {
		return nil, fmt.Errorf("%w: no skeleton %q in %s", ErrInvalidConfig, skelName, w.Name())
	}
	for _, d := range skel.Dofs() {
		if d.Name() == dofName {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: skeleton %q has no dof %q", ErrInvalidConfig, skelName, dofName)
}

// NewStepper builds a forward-pass stepper from the solver and collision
// settings.
func (c *Config) NewStepper() *neural.Stepper {
	s := neural.NewStepper()

	pgs := lcp.NewPGS()
	pgs.MaxIterations = c.Solver.MaxIterations
	pgs.Tolerance = c.Solver.Tolerance
	pgs.PolishPasses = c.Solver.PolishPasses
	if c.Solver.Fallback {
		s.Solver = lcp.Fallback{Solvers: []lcp.Solver{pgs, lcp.NewEnumerate()}}
	} else {
		s.Solver = pgs
	}

	s.Detector.Margin = c.Collision.Margin
	s.Detector.MaxPenetration = c.Collision.MaxPenetration
	s.Detector.SelfCollision = c.Collision.SelfCollision
	return s
}

// NewController builds the configured controller for w, or nil when torques
// stay fixed. Call it after Apply so "pd" holds the configured pose.
func (c *Config) NewController(w *simulation.World) (controllers.Controller, error) {
	cc := c.Controller
	switch cc.Type {
	case "":
		return nil, nil
	case "pid":
		d, err := lookupDof(w, cc.Dof)
		if err != nil {
			return nil, err
		}
		return controllers.NewPID(w.WorldIndex(d), cc.Kp, cc.Ki, cc.Kd, cc.Target), nil
	case "pd":
		n := w.NumDofs()
		target := append(w.Positions(), make([]float64, n)...)
		return controllers.NewLQR(controllers.PDGain(n, cc.Kp, cc.Kd), target), nil
	}
	return nil, fmt.Errorf("%w: unknown controller type %q", ErrInvalidConfig, cc.Type)
}
