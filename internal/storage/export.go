package storage

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
)

type ExportData struct {
	ID         string             `json:"id"`
	Scenario   string             `json:"scenario"`
	Dt         float64            `json:"dt"`
	Steps      int                `json:"steps"`
	Dofs       []string           `json:"dofs"`
	Times      []float64          `json:"times"`
	Positions  [][]float64        `json:"positions"`
	Velocities [][]float64        `json:"velocities"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Export gathers a stored run into one document.
func (s *Store) Export(runID string) (*ExportData, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	states, err := s.LoadStates(runID)
	if err != nil {
		return nil, err
	}
	return &ExportData{
		ID:         meta.ID,
		Scenario:   meta.Scenario,
		Dt:         meta.Dt,
		Steps:      meta.Steps,
		Dofs:       meta.Dofs,
		Times:      states.Times,
		Positions:  states.Positions,
		Velocities: states.Velocities,
		Metrics:    meta.Metrics,
	}, nil
}

func (s *Store) ExportJSON(runID string, out io.Writer) error {
	data, err := s.Export(runID)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// ExportCSV copies the run's states.csv to out.
func (s *Store) ExportCSV(runID string, out io.Writer) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	file, err := os.Open(filepath.Join(dir, statesFile))
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(out, file)
	return err
}
