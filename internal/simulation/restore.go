package simulation

// RestorableSnapshot records the mutable state of a world so it can be put
// back after perturbation experiments.
type RestorableSnapshot struct {
	world      *World
	positions  []float64
	velocities []float64
	forces     []float64
	timeStep   float64
	time       float64
	steps      int
}

func NewRestorableSnapshot(w *World) *RestorableSnapshot {
	return &RestorableSnapshot{
		world:      w,
		positions:  w.Positions(),
		velocities: w.Velocities(),
		forces:     w.Forces(),
		timeStep:   w.timeStep,
		time:       w.time,
		steps:      w.steps,
	}
}

func (s *RestorableSnapshot) Restore() {
	s.world.SetPositions(s.positions)
	s.world.SetVelocities(s.velocities)
	s.world.SetForces(s.forces)
	s.world.timeStep = s.timeStep
	s.world.time = s.time
	s.world.steps = s.steps
}

// Preserve runs fn and restores the world state afterwards, including when fn
// returns early or panics.
func Preserve(w *World, fn func() error) error {
	snapshot := NewRestorableSnapshot(w)
	defer snapshot.Restore()
	return fn()
}
