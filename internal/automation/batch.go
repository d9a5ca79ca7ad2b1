// Package automation runs scripted batches of rollouts and Monte Carlo trials
// over perturbed initial states.
package automation

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/san-kum/diffdyn/internal/config"
	"github.com/san-kum/diffdyn/internal/metrics"
	"github.com/san-kum/diffdyn/internal/scenario"
	"github.com/san-kum/diffdyn/internal/sim"
	"github.com/san-kum/diffdyn/internal/simulation"
	"github.com/san-kum/diffdyn/internal/storage"
	"gopkg.in/yaml.v3"
)

var ErrEmptyBatch = errors.New("automation: batch has no runs")

// Batch is a list of rollouts read from YAML. Each run is a config document
// layered over its preset (or the defaults) plus a name:
//
//	name: friction study
//	runs:
//	  - name: slow
//	    scenario: sliding_puck
//	    friction: 0.8
//	  - name: held
//	    scenario: pendulum_limit
//	    preset: hold
type Batch struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Runs        []BatchRun `yaml:"-"`
}

type BatchRun struct {
	Name   string
	Preset string
	Config *config.Config
}

type batchFile struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Runs        []yaml.Node `yaml:"runs"`
}

func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBatch(data)
}

func ParseBatch(data []byte) (*Batch, error) {
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Runs) == 0 {
		return nil, ErrEmptyBatch
	}

	b := &Batch{Name: f.Name, Description: f.Description}
	for i := range f.Runs {
		run, err := parseRun(&f.Runs[i])
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		if run.Name == "" {
			run.Name = fmt.Sprintf("%s-%d", run.Config.Scenario, i+1)
		}
		b.Runs = append(b.Runs, run)
	}
	return b, nil
}

func parseRun(node *yaml.Node) (BatchRun, error) {
	var head struct {
		Name     string `yaml:"name"`
		Preset   string `yaml:"preset"`
		Scenario string `yaml:"scenario"`
	}
	if err := node.Decode(&head); err != nil {
		return BatchRun{}, err
	}

	cfg := config.DefaultConfig()
	if head.Preset != "" {
		name := head.Scenario
		if name == "" {
			name = cfg.Scenario
		}
		if cfg = config.GetPreset(name, head.Preset); cfg == nil {
			return BatchRun{}, fmt.Errorf("%w: unknown preset %q for %s", config.ErrInvalidConfig, head.Preset, name)
		}
	}
	// decoding over the preset keeps every field the run leaves out
	if err := node.Decode(cfg); err != nil {
		return BatchRun{}, err
	}
	if err := cfg.Validate(); err != nil {
		return BatchRun{}, err
	}
	return BatchRun{Name: head.Name, Preset: head.Preset, Config: cfg}, nil
}

// BatchResult is one finished run. RunID is empty when nothing was saved.
type BatchResult struct {
	Name   string
	RunID  string
	Result *sim.Result
}

// Run executes every run of b, at most limit at a time, and saves each result
// to store when store is not nil.
func (b *Batch) Run(ctx context.Context, reg *scenario.Registry, store *storage.Store, limit int) ([]BatchResult, error) {
	worlds := make([]*simulation.World, len(b.Runs))
	jobs := make([]sim.Job, len(b.Runs))
	for i, run := range b.Runs {
		i := i
		cfg := run.Config
		jobs[i] = sim.Job{
			Name: run.Name,
			Build: func() (*simulation.World, error) {
				w, err := reg.Build(cfg.Scenario)
				if err != nil {
					return nil, err
				}
				if err := cfg.Apply(w); err != nil {
					return nil, err
				}
				worlds[i] = w
				return w, nil
			},
			Stepper:    cfg.NewStepper(),
			Config:     sim.Config{Steps: cfg.Steps},
			Metrics:    metrics.Default,
			Controller: cfg.NewController,
		}
	}

	results, err := sim.NewEnsemble(limit).Run(ctx, jobs)
	if err != nil {
		return nil, err
	}

	out := make([]BatchResult, len(results))
	for i, r := range results {
		out[i] = BatchResult{Name: b.Runs[i].Name, Result: r}
		if store == nil {
			continue
		}
		meta := storage.MetadataFor(b.Runs[i].Config.Scenario, worlds[i])
		meta.Preset = b.Runs[i].Preset
		id, err := store.Save(meta, r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Runs[i].Name, err)
		}
		out[i].RunID = id
	}
	return out, nil
}
