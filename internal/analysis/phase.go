package analysis

import (
	"fmt"
	"strings"

	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/sim"
)

type Point struct{ X, Y float64 }

// PhasePortrait is the (position, velocity) trace of one dof.
type PhasePortrait struct {
	Dof    int
	Points []Point
}

func checkDof(r *sim.Result, dof int) error {
	if len(r.Positions) == 0 {
		return ErrNoSteps
	}
	if dof < 0 || dof >= len(r.Positions[0]) {
		return fmt.Errorf("%w: dof %d of %d", dynamo.ErrDimensionMismatch, dof, len(r.Positions[0]))
	}
	return nil
}

func NewPhasePortrait(r *sim.Result, dof int) (*PhasePortrait, error) {
	if err := checkDof(r, dof); err != nil {
		return nil, err
	}
	p := &PhasePortrait{Dof: dof, Points: make([]Point, len(r.Positions))}
	for i := range r.Positions {
		p.Points[i] = Point{X: r.Positions[i][dof], Y: r.Velocities[i][dof]}
	}
	return p, nil
}

func (p *PhasePortrait) ASCII(width, height int) string {
	return scatter(p.Points, width, height)
}

// PoincareSection holds the (position, velocity) of one dof each time another
// dof's position crosses a threshold upwards, interpolated to the crossing.
type PoincareSection struct {
	CrossDof, RecordDof int
	Threshold           float64
	Points              []Point
}

func NewPoincareSection(r *sim.Result, crossDof, recordDof int, threshold float64) (*PoincareSection, error) {
	if err := checkDof(r, crossDof); err != nil {
		return nil, err
	}
	if err := checkDof(r, recordDof); err != nil {
		return nil, err
	}
	sec := &PoincareSection{CrossDof: crossDof, RecordDof: recordDof, Threshold: threshold}
	for i := 1; i < len(r.Positions); i++ {
		prev, curr := r.Positions[i-1][crossDof], r.Positions[i][crossDof]
		if prev >= threshold || curr < threshold {
			continue
		}
		frac := (threshold - prev) / (curr - prev)
		lerp := func(a, b float64) float64 { return a + frac*(b-a) }
		sec.Points = append(sec.Points, Point{
			X: lerp(r.Positions[i-1][recordDof], r.Positions[i][recordDof]),
			Y: lerp(r.Velocities[i-1][recordDof], r.Velocities[i][recordDof]),
		})
	}
	return sec, nil
}

func (s *PoincareSection) ASCII(width, height int) string {
	if len(s.Points) == 0 {
		return "no crossings\n"
	}
	return scatter(s.Points, width, height)
}

// scatter plots points on a character grid padded by a tenth of each range,
// drawing the axes where they are visible.
func scatter(points []Point, width, height int) string {
	if len(points) == 0 || width < 2 || height < 2 {
		return ""
	}

	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	pad := func(lo, hi float64) (float64, float64) {
		r := hi - lo
		if r == 0 {
			r = 1
		}
		return lo - 0.1*r, hi + 0.1*r
	}
	minX, maxX = pad(minX, maxX)
	minY, maxY = pad(minY, maxY)

	col := func(x float64) int { return int((x - minX) / (maxX - minX) * float64(width-1)) }
	row := func(y float64) int { return height - 1 - int((y-minY)/(maxY-minY)*float64(height-1)) }

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}
	for _, p := range points {
		grid[row(p.Y)][col(p.X)] = '•'
	}
	if minX <= 0 && maxX >= 0 {
		c := col(0)
		for r := range grid {
			if grid[r][c] == ' ' {
				grid[r][c] = '│'
			}
		}
	}
	if minY <= 0 && maxY >= 0 {
		r := row(0)
		for c := range grid[r] {
			if grid[r][c] == ' ' {
				grid[r][c] = '─'
			}
		}
	}

	var sb strings.Builder
	for _, line := range grid {
		sb.WriteString(string(line))
		sb.WriteByte('\n')
	}
	return sb.String()
}
