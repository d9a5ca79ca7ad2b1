package scenario

import (
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/diffdyn/internal/simulation"
)

var ErrUnknownScenario = errors.New("scenario: unknown scenario")

// Builder creates a fresh world. Every call must return an independent world.
type Builder func() (*simulation.World, error)

type entry struct {
	description string
	build       Builder
}

type Registry struct {
	scenarios map[string]entry
}

func NewRegistry() *Registry {
	r := &Registry{scenarios: make(map[string]entry)}

	r.Register("ball_on_plane", "free ball resting on a ground plane", BallOnPlane)
	r.Register("sliding_puck", "puck sliding along the ground under Coulomb friction", SlidingPuck)
	r.Register("crossed_bars", "free bar falling across a hinged rail (edge-edge)", CrossedBars)
	r.Register("tongs", "two fingers on a shared hinge squeezed together (self-collision)", Tongs)
	r.Register("pincer", "edge-tipped fingers on a shared hinge (edge-edge self-collision)", Pincer)
	r.Register("pendulum_limit", "pendulum swinging into its lower joint limit", PendulumLimit)

	return r
}

// Register adds or replaces a scenario.
func (r *Registry) Register(name, description string, build Builder) {
	r.scenarios[name] = entry{description: description, build: build}
}

func (r *Registry) Build(name string) (*simulation.World, error) {
	e, ok := r.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}
	w, err := e.build()
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", name, err)
	}
	return w, nil
}

func (r *Registry) Describe(name string) (string, error) {
	e, ok := r.scenarios[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}
	return e.description, nil
}

// List returns the scenario names in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.scenarios))
	for name := range r.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
