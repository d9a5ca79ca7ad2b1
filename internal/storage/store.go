package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/diffdyn/internal/sim"
	"github.com/san-kum/diffdyn/internal/simulation"
)

var ErrRunNotFound = errors.New("storage: run not found")

const (
	metadataFile = "metadata.json"
	statesFile   = "states.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) BaseDir() string { return s.baseDir }

type RunMetadata struct {
	ID          string             `json:"id"`
	Scenario    string             `json:"scenario"`
	Preset      string             `json:"preset,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Dt          float64            `json:"dt"`
	Steps       int                `json:"steps"`
	Friction    float64            `json:"friction"`
	Dofs        []string           `json:"dofs"`
	EnergyDrift float64            `json:"energy_drift"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Save writes a new run directory and returns its ID. ID and Timestamp of
// meta are assigned here; Steps and Metrics are taken from result.
func (s *Store) Save(meta RunMetadata, result *sim.Result) (string, error) {
	meta.ID = uuid.NewString()
	meta.Timestamp = time.Now()
	meta.Steps = result.StepsTaken
	meta.EnergyDrift = result.EnergyDrift
	meta.Metrics = result.Metrics

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, statesFile))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	if err := writeStates(w, meta.Dofs, result); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return meta.ID, nil
}

func writeStates(w *csv.Writer, dofs []string, result *sim.Result) error {
	if len(result.Times) == 0 {
		return nil
	}
	n := len(result.Positions[0])
	header := []string{"time"}
	for i := 0; i < n; i++ {
		header = append(header, "q_"+dofName(dofs, i))
	}
	for i := 0; i < n; i++ {
		header = append(header, "v_"+dofName(dofs, i))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i, t := range result.Times {
		row := []string{strconv.FormatFloat(t, 'f', 6, 64)}
		for _, val := range result.Positions[i] {
			row = append(row, strconv.FormatFloat(val, 'g', 10, 64))
		}
		for _, val := range result.Velocities[i] {
			row = append(row, strconv.FormatFloat(val, 'g', 10, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func dofName(dofs []string, i int) string {
	if i < len(dofs) {
		return dofs[i]
	}
	return strconv.Itoa(i)
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) runDir(runID string) (string, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return "", fmt.Errorf("%w: %q is not a run id", ErrRunNotFound, runID)
	}
	return filepath.Join(s.baseDir, runID), nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

// States is the trajectory stored in states.csv.
type States struct {
	Times      []float64
	Positions  [][]float64
	Velocities [][]float64
}

func (s *Store) LoadStates(runID string) (*States, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, statesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	out := &States{}
	if len(records) < 2 {
		return out, nil
	}

	var qCols, vCols []int
	for j, name := range records[0] {
		switch {
		case strings.HasPrefix(name, "q_"):
			qCols = append(qCols, j)
		case strings.HasPrefix(name, "v_"):
			vCols = append(vCols, j)
		}
	}

	parse := func(record []string, cols []int) ([]float64, error) {
		vals := make([]float64, len(cols))
		for k, j := range cols {
			if j >= len(record) {
				return nil, fmt.Errorf("short record with %d fields", len(record))
			}
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, err
			}
			vals[k] = v
		}
		return vals, nil
	}

	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) == 0 {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", statesFile, i+1, err)
		}
		q, err := parse(record, qCols)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", statesFile, i+1, err)
		}
		v, err := parse(record, vCols)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", statesFile, i+1, err)
		}
		out.Times = append(out.Times, t)
		out.Positions = append(out.Positions, q)
		out.Velocities = append(out.Velocities, v)
	}
	return out, nil
}

// MetadataFor fills the world-derived fields of a run record. Dofs are named
// "skeleton/dof" in world order.
func MetadataFor(scenario string, w *simulation.World) RunMetadata {
	dofs := make([]string, 0, w.NumDofs())
	for _, d := range w.Dofs() {
		dofs = append(dofs, d.Skeleton().Name()+"/"+d.Name())
	}
	return RunMetadata{
		Scenario: scenario,
		Dt:       w.TimeStep(),
		Friction: w.FrictionCoeff(),
		Dofs:     dofs,
	}
}
