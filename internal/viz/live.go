package viz

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/diffdyn/internal/dynamo"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/sim"
	"github.com/san-kum/diffdyn/internal/simulation"
)

const (
	canvasWidth     = 60
	canvasHeight    = 20
	historyCapacity = 300
	frameRate       = 30
)

type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/frameRate, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Model steps a world on every tick and draws it with its active contacts.
type Model struct {
	name    string
	world   *simulation.World
	stepper *neural.Stepper
	initial *simulation.RestorableSnapshot

	canvas *Canvas
	camera *Camera
	scene  Wireframe

	snap     *neural.BackpropSnapshot
	sample   dynamo.Sample
	energy   []float64
	impulses []float64
	err      error

	// StepsPerFrame is how many time steps run per tick.
	StepsPerFrame int
	// MaxSteps pauses the view once reached; zero runs forever.
	MaxSteps int

	running  bool
	showHelp bool
	theme    int
}

func NewModel(name string, w *simulation.World, stepper *neural.Stepper) Model {
	if stepper == nil {
		stepper = neural.NewStepper()
	}
	m := Model{
		name:          name,
		world:         w,
		stepper:       stepper,
		initial:       simulation.NewRestorableSnapshot(w),
		canvas:        NewCanvas(canvasWidth, canvasHeight),
		camera:        NewCamera(),
		energy:        make([]float64, 0, historyCapacity),
		impulses:      make([]float64, 0, historyCapacity),
		StepsPerFrame: 1,
		running:       true,
	}
	m.draw()
	return m
}

func (m Model) World() *simulation.World { return m.world }
func (m Model) Running() bool            { return m.running }
func (m Model) Err() error               { return m.err }
func (m Model) Theme() Theme             { return Themes[m.theme] }

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "p":
			m.running = !m.running && m.err == nil
		case "n":
			if !m.running {
				m.step()
			}
		case "r":
			m.reset()
		case "left":
			m.camera.Orbit(-0.1, 0)
		case "right":
			m.camera.Orbit(0.1, 0)
		case "up":
			m.camera.Orbit(0, 0.1)
		case "down":
			m.camera.Orbit(0, -0.1)
		case "+", "=":
			m.camera.ZoomIn()
		case "-", "_":
			m.camera.ZoomOut()
		case "t":
			m.theme = (m.theme + 1) % len(Themes)
		case "?":
			m.showHelp = !m.showHelp
		}
		m.draw()
	case TickMsg:
		if m.running {
			for i := 0; i < m.StepsPerFrame && m.running; i++ {
				m.step()
			}
		}
		m.draw()
		return m, tick()
	}
	return m, nil
}

func (m *Model) step() {
	snap, err := m.stepper.ForwardPass(m.world, true)
	if err != nil {
		m.err = err
		m.running = false
		return
	}
	m.snap = snap
	m.sample = sim.Sample(m.world, snap)
	m.energy = appendCapped(m.energy, m.sample.KineticEnergy+m.sample.PotentialEnergy)
	m.impulses = appendCapped(m.impulses, m.sample.MaxImpulse)
	if m.MaxSteps > 0 && m.world.Steps() >= m.MaxSteps {
		m.running = false
	}
}

func appendCapped(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyCapacity {
		h = h[1:]
	}
	return h
}

func (m *Model) reset() {
	m.initial.Restore()
	m.snap = nil
	m.sample = dynamo.Sample{}
	m.energy = m.energy[:0]
	m.impulses = m.impulses[:0]
	m.err = nil
}

func (m *Model) draw() {
	m.canvas.Clear()
	m.scene.Clear()
	m.scene.AddWorld(m.world, m.snap)
	Render3D(m.canvas, &m.scene, m.camera)
}

func (m Model) status() string {
	switch {
	case m.err != nil:
		return "FAILED"
	case m.MaxSteps > 0 && m.world.Steps() >= m.MaxSteps:
		return "DONE"
	case !m.running:
		return "PAUSED"
	}
	return "RUNNING"
}

func (m Model) View() string {
	st := m.Theme().styles()
	canvasView := st.canvas.Render(m.canvas.String())

	var s strings.Builder
	s.WriteString(st.header.Render(strings.ToUpper(m.name)) + "\n")
	s.WriteString(m.status() + "\n\n")

	line := func(label, value string) {
		s.WriteString(st.label.Render(label) + st.value.Render(value) + "\n")
	}
	line("Time", fmt.Sprintf("%.3fs", m.world.Time()))
	line("Steps", fmt.Sprintf("%d", m.world.Steps()))
	line("Contacts", fmt.Sprintf("%d", m.sample.Contacts))
	line("Clamping", fmt.Sprintf("%d", m.sample.Clamping))
	line("Upper bound", fmt.Sprintf("%d", m.sample.UpperBound))
	line("Impulse", fmt.Sprintf("%.4g", m.sample.MaxImpulse))
	line("Penetration", fmt.Sprintf("%.2e", m.sample.MaxPenetration))
	if m.MaxSteps > 0 {
		s.WriteString(st.label.Render("Progress") + ProgressBar(float64(m.world.Steps())/float64(m.MaxSteps), 20) + "\n")
	}
	if len(m.impulses) > 0 {
		s.WriteString(st.label.Render("") + Sparkline(m.impulses, 30) + "\n")
	}

	if len(m.energy) > 1 && !flat(m.energy) {
		chart := asciigraph.Plot(m.energy, asciigraph.Height(4), asciigraph.Width(30), asciigraph.Caption("Energy"))
		s.WriteString("\n" + chart + "\n")
	}
	if m.err != nil {
		s.WriteString("\n" + st.err.Render(m.err.Error()) + "\n")
	}
	s.WriteString(st.help.Render("SP:Pause N:Step R:Reset Q:Quit\n←→↑↓:Orbit +-:Zoom T:Theme ?:Help"))

	stats := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(m.Theme().Muted).
		Padding(1, 2).
		Width(46).
		Render(s.String())
	view := lipgloss.JoinHorizontal(lipgloss.Top, canvasView, stats)
	if m.showHelp {
		return Panel.Render(helpText) + "\n" + view
	}
	return view
}

// flat reports whether h is constant to plotting precision.
func flat(h []float64) bool {
	lo, hi := h[0], h[0]
	for _, v := range h {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	return hi-lo < 1e-12
}

const helpText = `Space/P  pause or resume
N        single step while paused
R        reset to the initial state
←/→ ↑/↓  orbit the camera
+/-      zoom
T        cycle themes
?        toggle this help
Q        quit`

// RunLive opens the live view on w until the user quits.
func RunLive(name string, w *simulation.World, stepper *neural.Stepper, maxSteps int) error {
	m := NewModel(name, w, stepper)
	m.MaxSteps = maxSteps
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(Model); ok {
		return fm.err
	}
	return nil
}
