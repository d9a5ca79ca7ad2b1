package sim

import (
	"context"
	"fmt"

	"github.com/san-kum/diffdyn/internal/controllers"
	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/simulation"
)

// Job is one rollout of an ensemble. Build must return a world no other job
// touches.
type Job struct {
	Name    string
	Build   func() (*simulation.World, error)
	Stepper *neural.Stepper
	Config  Config
	Metrics func() []dynamo.Metric

	// Controller, when set, builds the job's controller for its own world.
	Controller func(*simulation.World) (controllers.Controller, error)
}

// Ensemble runs independent rollouts concurrently, at most Limit at a time
// (zero means no limit).
type Ensemble struct {
	Limit int
}

func NewEnsemble(limit int) *Ensemble {
	return &Ensemble{Limit: limit}
}

// Run returns results in job order. The first failure cancels the jobs that
// have not started yet.
func (e *Ensemble) Run(ctx context.Context, jobs []Job) ([]*Result, error) {
	results := make([]*Result, len(jobs))
	err := dynamo.ParallelEach(ctx, len(jobs), e.Limit, func(ctx context.Context, i int) error {
		job := jobs[i]
		w, err := job.Build()
		if err != nil {
			return fmt.Errorf("%s: %w", job.Name, err)
		}
		s := New(w, job.Stepper)
		if job.Controller != nil {
			c, err := job.Controller(w)
			if err != nil {
				return fmt.Errorf("%s: %w", job.Name, err)
			}
			if c != nil {
				s.SetController(c)
			}
		}
		if job.Metrics != nil {
			for _, m := range job.Metrics() {
				s.AddMetric(m)
			}
		}
		res, err := s.Run(ctx, job.Config)
		results[i] = res
		if err != nil {
			return fmt.Errorf("%s: %w", job.Name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
