package viz

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/diffdyn/internal/gradcheck"
	"github.com/san-kum/diffdyn/internal/scenario"
	"github.com/san-kum/diffdyn/internal/simulation"
)

func buildWorld(t *testing.T, name string) *simulation.World {
	t.Helper()
	w, err := scenario.NewRegistry().Build(name)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestCanvas(t *testing.T) {
	c := NewCanvas(4, 2)
	if c.DotWidth() != 8 || c.DotHeight() != 8 {
		t.Fatalf("expected 8x8 dots, got %dx%d", c.DotWidth(), c.DotHeight())
	}

	c.Set(0, 0)
	c.Set(1, 3)
	if c.Grid[0][0] != 0x2800|0x1|0x80 {
		t.Errorf("unexpected cell %U", c.Grid[0][0])
	}
	if !c.IsSet(1, 3) || c.IsSet(1, 2) {
		t.Error("IsSet disagrees with Set")
	}

	// off-canvas dots are ignored
	c.Set(-1, 0)
	c.Set(100, 100)

	c.DrawLine(0, 7, 7, 7)
	for x := 0; x < 8; x++ {
		if !c.IsSet(x, 7) {
			t.Errorf("line misses dot (%d, 7)", x)
		}
	}

	c.Clear()
	if strings.Trim(c.String(), "⠀\n") != "" {
		t.Error("clear left dots behind")
	}
}

func TestCameraProjection(t *testing.T) {
	cv := NewCanvas(20, 10)
	cam := NewCamera()

	x, y, _ := cam.Project(mgl64.Vec3{}, cv)
	if x != cv.DotWidth()/2 || y != cv.DotHeight()/2 {
		t.Errorf("origin projects to (%d, %d)", x, y)
	}

	// +y is up on screen, +x is right
	_, yUp, _ := cam.Project(mgl64.Vec3{0, 1, 0}, cv)
	xRight, _, _ := cam.Project(mgl64.Vec3{1, 0, 0}, cv)
	if yUp >= y || xRight <= x {
		t.Errorf("unexpected orientation: up y=%d right x=%d", yUp, xRight)
	}

	// a quarter turn of yaw brings z into the screen's horizontal
	cam.Orbit(1.5707963267948966, 0)
	xz, _, _ := cam.Project(mgl64.Vec3{0, 0, 1}, cv)
	if xz == x {
		t.Error("yaw did not move a point on the z axis")
	}

	cam.Orbit(0, 10)
	if cam.Pitch > 1.5707963267948966+1e-12 {
		t.Errorf("pitch not clamped: %f", cam.Pitch)
	}

	z := cam.Zoom
	cam.ZoomIn()
	if cam.Zoom <= z {
		t.Error("zoom in did not zoom")
	}
}

func TestWireframeFromWorld(t *testing.T) {
	w := buildWorld(t, "tongs")
	var wf Wireframe
	wf.AddWorld(w, nil)

	// links palm->left and palm->right, the right face outline and the left vertex
	if len(wf.Segments) != 6 {
		t.Errorf("expected 6 segments, got %d", len(wf.Segments))
	}
	if len(wf.Points) != 1 {
		t.Errorf("expected 1 point, got %d", len(wf.Points))
	}

	snap, err := gradcheck.Step(w)
	if err != nil {
		t.Fatal(err)
	}
	wf.Clear()
	wf.AddWorld(w, snap)
	if len(wf.Points) != 2 || len(wf.Segments) != 7 {
		t.Errorf("expected the contact and its normal, got %d points %d segments", len(wf.Points), len(wf.Segments))
	}
}

func TestLiveModelSteps(t *testing.T) {
	w := buildWorld(t, "ball_on_plane")
	m := NewModel("ball_on_plane", w, nil)
	m.MaxSteps = 3

	var next tea.Model = m
	for i := 0; i < 5; i++ {
		next, _ = next.Update(TickMsg{})
	}
	lm := next.(Model)
	if w.Steps() != 3 {
		t.Errorf("expected to stop at 3 steps, got %d", w.Steps())
	}
	if lm.Running() {
		t.Error("model still running after MaxSteps")
	}
	if lm.sample.Contacts != 1 {
		t.Errorf("expected 1 contact, got %d", lm.sample.Contacts)
	}

	view := lm.View()
	for _, want := range []string{"BALL_ON_PLANE", "DONE", "Contacts"} {
		if !strings.Contains(view, want) {
			t.Errorf("view misses %q", want)
		}
	}

	next, _ = lm.Update(key("r"))
	lm = next.(Model)
	if w.Steps() != 0 || w.Time() != 0 {
		t.Errorf("reset left steps=%d time=%f", w.Steps(), w.Time())
	}
}

func TestLiveModelKeys(t *testing.T) {
	m := NewModel("tongs", buildWorld(t, "tongs"), nil)

	next, _ := m.Update(key("p"))
	m = next.(Model)
	if m.Running() {
		t.Fatal("p did not pause")
	}
	next, _ = m.Update(TickMsg{})
	m = next.(Model)
	if m.World().Steps() != 0 {
		t.Error("paused model stepped on tick")
	}
	next, _ = m.Update(key("n"))
	m = next.(Model)
	if m.World().Steps() != 1 {
		t.Error("n did not single-step")
	}

	next, _ = m.Update(key("t"))
	m = next.(Model)
	if m.Theme().Name != Themes[1].Name {
		t.Errorf("expected theme %s, got %s", Themes[1].Name, m.Theme().Name)
	}

	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestPicker(t *testing.T) {
	p := NewPicker(scenario.NewRegistry(), nil)
	view := p.View()
	for _, name := range scenario.NewRegistry().List() {
		if !strings.Contains(view, name) {
			t.Errorf("menu misses %s", name)
		}
	}

	next, _ := p.Update(tea.KeyMsg{Type: tea.KeyDown})
	next, cmd := next.Update(tea.KeyMsg{Type: tea.KeyEnter})
	p = next.(Picker)
	if p.Selected() == nil || cmd == nil {
		t.Fatal("enter did not open a scenario")
	}
	want := scenario.NewRegistry().List()[1]
	if p.Selected().name != want {
		t.Errorf("expected %s, got %s", want, p.Selected().name)
	}
}

func TestThemes(t *testing.T) {
	if ThemeIndex("ocean") != 2 || ThemeIndex("nope") != 0 {
		t.Error("ThemeIndex lookup")
	}
	if len(ThemeNames()) != len(Themes) {
		t.Error("ThemeNames length")
	}
}

func TestPlotColumns(t *testing.T) {
	rows := [][]float64{{0, 1}, {1, 2}, {4, 3}, {9, 4}}
	out, err := PlotColumns(rows, []int{0}, "q0", 20, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "q0") {
		t.Error("caption missing")
	}

	if _, err := PlotColumns(rows, []int{5}, "", 20, 5); err == nil {
		t.Error("expected out-of-range error")
	}
	if _, err := PlotColumns(rows[:1], nil, "", 20, 5); err == nil {
		t.Error("expected too-few-samples error")
	}
	if got := Column(rows, 1); got[3] != 4 {
		t.Errorf("Column = %v", got)
	}
}

func TestRenderReport(t *testing.T) {
	r := &gradcheck.Report{
		Tolerance: 1e-4,
		Checks: []gradcheck.Check{
			{Scenario: "ball_on_plane", Name: "vel-vel", Rows: 6, Cols: 6, MaxError: 1e-8, Passed: true},
			{Scenario: "tongs", Name: "pos-vel", Rows: 3, Cols: 3, MaxError: 0.2},
			{Scenario: "tongs", Name: "vel-pos", Err: errors.New("boom")},
		},
	}
	out := RenderReport(r)
	for _, want := range []string{"ball_on_plane", "6x6", "FAIL", "error: boom", "2 of 3 checks failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("report misses %q", want)
		}
	}

	r.Checks = r.Checks[:1]
	if !strings.Contains(RenderReport(r), "all 1 checks passed") {
		t.Error("missing pass summary")
	}
}

func TestRenderMatrix(t *testing.T) {
	out := RenderMatrix("vel-vel", mat.NewDense(2, 2, []float64{1, 0, 0, 1}))
	if !strings.Contains(out, "vel-vel (2x2)") || strings.Count(out, "\n") != 3 {
		t.Errorf("unexpected matrix rendering:\n%s", out)
	}
	if !strings.Contains(RenderMatrix("empty", &mat.Dense{}), "(0x0)") {
		t.Error("empty matrix title")
	}
}

func TestSparklineAndProgress(t *testing.T) {
	if got := Sparkline([]float64{0, 1}, 10); got != "▁█" {
		t.Errorf("Sparkline = %q", got)
	}
	if got := Sparkline(nil, 3); got != "───" {
		t.Errorf("empty Sparkline = %q", got)
	}
	if !strings.Contains(ProgressBar(0.5, 4), "██░░") {
		t.Error("half progress bar")
	}
}
